package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/faidrapts/sharepoint-connector/internal/tokenfile"
)

// RefreshMargin is how far ahead of expiry a credential is treated as
// expiring. Renewing early keeps a long download from racing the clock
// mid-request.
const RefreshMargin = 2 * time.Minute

// Credential is an immutable snapshot of the delegated session's tokens.
// Raw token fields never leave this package except through AuthHeaders and
// the Graph TokenSource.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// credentialFromToken converts an oauth2 token into our Credential shape.
func credentialFromToken(tok *oauth2.Token, scopes []string) Credential {
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       scopes,
	}
}

// RefreshFunc renews an expiring credential. Session.Refresh is the real
// implementation; tests substitute their own.
type RefreshFunc func(ctx context.Context, cred Credential) (Credential, error)

// TokenStore hands out valid credentials to any number of concurrent
// callers. When the held credential is expiring, exactly one refresh runs
// and every caller of that moment shares its outcome — success or failure.
type TokenStore struct {
	refresh RefreshFunc
	logger  *slog.Logger

	mu       sync.Mutex
	cred     Credential
	onChange func(Credential)

	flight singleflight.Group

	// margin and now are fixed at construction; tests override them.
	margin time.Duration
	now    func() time.Time
}

// NewTokenStore creates a store holding cred, renewing through refresh.
func NewTokenStore(cred Credential, refresh RefreshFunc, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenStore{
		refresh: refresh,
		logger:  logger,
		cred:    cred,
		margin:  RefreshMargin,
		now:     time.Now,
	}
}

// OnChange registers a hook invoked after every successful refresh, with
// the renewed credential. Used to persist exported credentials.
func (s *TokenStore) OnChange(fn func(Credential)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// usable reports whether cred can still back requests: non-empty and at
// least margin ahead of expiry. Zero expiry means the service issued no
// lifetime, so the token is trusted until a request bounces.
func (s *TokenStore) usable(cred Credential) bool {
	if cred.AccessToken == "" {
		return false
	}

	if cred.Expiry.IsZero() {
		return true
	}

	return s.now().Add(s.margin).Before(cred.Expiry)
}

// GetValid returns a credential guaranteed usable at call time, refreshing
// first when needed. Concurrent callers during a refresh block and share
// that single refresh's outcome rather than stacking renewals.
func (s *TokenStore) GetValid(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if s.usable(cred) {
		return cred, nil
	}

	v, err, shared := s.flight.Do("refresh", func() (any, error) {
		s.mu.Lock()
		current := s.cred
		s.mu.Unlock()

		// A flight that completed while we queued may have already renewed.
		if s.usable(current) {
			return current, nil
		}

		s.logger.Debug("credential expiring, renewing",
			slog.Time("expiry", current.Expiry),
		)

		fresh, refreshErr := s.refresh(ctx, current)
		if refreshErr != nil {
			return nil, refreshErr
		}

		s.mu.Lock()
		s.cred = fresh
		hook := s.onChange
		s.mu.Unlock()

		if hook != nil {
			hook(fresh)
		}

		return fresh, nil
	})
	if err != nil {
		return Credential{}, err
	}

	if shared {
		s.logger.Debug("renewal shared with concurrent caller")
	}

	fresh, ok := v.(Credential)
	if !ok {
		return Credential{}, fmt.Errorf("auth: unexpected refresh result type %T", v)
	}

	return fresh, nil
}

// AuthHeaders derives the request headers for an authenticated call.
// The only sanctioned way to turn a credential into wire material.
func (s *TokenStore) AuthHeaders(ctx context.Context) (map[string]string, error) {
	cred, err := s.GetValid(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"Authorization": "Bearer " + cred.AccessToken,
		"Accept":        "application/json",
	}, nil
}

// Token implements graph.TokenSource.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	cred, err := s.GetValid(ctx)
	if err != nil {
		return "", err
	}

	return cred.AccessToken, nil
}

// Current returns the held credential without renewal. For display and
// persistence only — callers that need a usable token use GetValid.
func (s *TokenStore) Current() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cred
}

// SaveTo exports the held credential to path (owner-only file, atomic
// write). Credentials cross process boundaries only through this explicit
// export.
func (s *TokenStore) SaveTo(path string, meta map[string]string) error {
	cred := s.Current()

	return tokenfile.Save(path, &tokenfile.File{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
		Scopes:       cred.Scopes,
		Meta:         meta,
	})
}

// PersistTo re-exports the credential to path after every successful
// refresh, preserving the metadata already stored there.
func (s *TokenStore) PersistTo(path string) {
	logger := s.logger

	s.OnChange(func(cred Credential) {
		meta, err := tokenfile.ReadMeta(path)
		if err != nil {
			logger.Warn("reading token file metadata",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}

		saveErr := tokenfile.Save(path, &tokenfile.File{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			Expiry:       cred.Expiry,
			Scopes:       cred.Scopes,
			Meta:         meta,
		})
		if saveErr != nil {
			logger.Warn("persisting refreshed credential",
				slog.String("path", path),
				slog.String("error", saveErr.Error()),
			)

			return
		}

		logger.Info("persisted refreshed credential", slog.String("path", path))
	})
}

// LoadStore reads an exported credential from path and builds a store
// renewing through refresh. Returns ErrNotLoggedIn if no export exists.
func LoadStore(path string, refresh RefreshFunc, logger *slog.Logger) (*TokenStore, error) {
	tf, err := tokenfile.Load(path)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	if logger == nil {
		logger = slog.Default()
	}

	cred := Credential{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		Expiry:       tf.Expiry,
		Scopes:       tf.Scopes,
	}

	expired := !cred.Expiry.IsZero() && cred.Expiry.Before(time.Now())
	logger.Info("loaded exported credential",
		slog.String("path", path),
		slog.Time("expiry", cred.Expiry),
		slog.Bool("expired", expired),
	)

	return NewTokenStore(cred, refresh, logger), nil
}
