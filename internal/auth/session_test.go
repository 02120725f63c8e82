package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// testTokenJSON is the canonical token response for tests.
const testTokenJSON = `{
	"access_token": "test-access-token",
	"token_type": "Bearer",
	"refresh_token": "test-refresh-token",
	"expires_in": 3600
}`

// testTokenNoRefreshJSON omits the refresh token, as the identity service
// does when the refresh token is unchanged.
const testTokenNoRefreshJSON = `{
	"access_token": "renewed-access-token",
	"token_type": "Bearer",
	"expires_in": 3600
}`

// newMockIdentityServer creates a test server with authorization + token
// endpoints. The authorize endpoint redirects to the callback URL with the
// code and state. tokenHandler controls the token endpoint behavior; nil
// returns testTokenJSON.
func newMockIdentityServer(t *testing.T, tokenHandler http.HandlerFunc) oauth2.Endpoint {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.NotEmpty(t, q.Get("code_challenge"), "authorization request must carry a PKCE challenge")
		assert.Equal(t, "S256", q.Get("code_challenge_method"))

		callback := q.Get("redirect_uri") + "?code=test-auth-code&state=" + url.QueryEscape(q.Get("state"))
		http.Redirect(w, r, callback, http.StatusFound)
	})

	handler := tokenHandler
	if handler == nil {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(testTokenJSON))
		}
	}

	mux.HandleFunc("POST /token", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return oauth2.Endpoint{
		AuthURL:  srv.URL + "/authorize",
		TokenURL: srv.URL + "/token",
	}
}

// testSessionConfig builds a session config pointing at a mock endpoint,
// with an ephemeral callback port so parallel tests never collide.
func testSessionConfig(endpoint oauth2.Endpoint) Config {
	return Config{
		ClientID:    "test-client-id",
		RedirectURI: "http://127.0.0.1:0/callback",
		Endpoint:    endpoint,
	}
}

// simulateBrowser acts as the user's browser: fetches the auth URL, which
// redirects to the localhost callback server, delivering the code.
func simulateBrowser(t *testing.T) func(string) error {
	t.Helper()

	// Don't follow redirects automatically — we follow the single redirect
	// by hand so it lands on the loopback callback server.
	client := &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return func(authURL string) error {
		resp, err := client.Get(authURL) //nolint:noctx // test helper
		if err != nil {
			return fmt.Errorf("hitting authorize endpoint: %w", err)
		}
		resp.Body.Close()

		location := resp.Header.Get("Location")
		if location == "" {
			return fmt.Errorf("authorize endpoint did not redirect")
		}

		callbackResp, err := http.Get(location) //nolint:noctx // test helper
		if err != nil {
			return fmt.Errorf("hitting callback: %w", err)
		}
		callbackResp.Body.Close()

		return nil
	}
}

func TestLogin_Success(t *testing.T) {
	endpoint := newMockIdentityServer(t, nil)
	cfg := testSessionConfig(endpoint)

	store, err := Login(context.Background(), cfg, simulateBrowser(t), slog.Default())
	require.NoError(t, err)
	require.NotNil(t, store)

	tok, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)

	cred := store.Current()
	assert.Equal(t, "test-refresh-token", cred.RefreshToken)
	assert.Equal(t, defaultScopes, cred.Scopes)
}

func TestLogin_OpenURLFails(t *testing.T) {
	// openURL failing falls back to printing the URL; the flow still
	// completes when the user opens it by hand.
	endpoint := newMockIdentityServer(t, nil)
	cfg := testSessionConfig(endpoint)

	browser := simulateBrowser(t)
	openURL := func(authURL string) error {
		// Simulate the user opening the printed URL by hand.
		go func() { _ = browser(authURL) }()

		return fmt.Errorf("no desktop environment")
	}

	store, err := Login(context.Background(), cfg, openURL, slog.Default())
	require.NoError(t, err)

	tok, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)
}

func TestBegin_EmptyClientID(t *testing.T) {
	session := NewSession(Config{RedirectURI: "http://127.0.0.1:0/callback"}, slog.Default())

	_, err := session.Begin(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, StateFailed, session.State())
}

func TestBegin_WhitespaceClientID(t *testing.T) {
	session := NewSession(Config{
		ClientID:    "client id with spaces",
		RedirectURI: "http://127.0.0.1:0/callback",
	}, slog.Default())

	_, err := session.Begin(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBegin_RejectsNonHTTPRedirect(t *testing.T) {
	session := NewSession(Config{
		ClientID:    "test-client-id",
		RedirectURI: "https://example.com/callback",
	}, slog.Default())

	_, err := session.Begin(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, StateFailed, session.State())
}

func TestBegin_RejectsNonLoopbackRedirect(t *testing.T) {
	session := NewSession(Config{
		ClientID:    "test-client-id",
		RedirectURI: "http://evil.example.com/callback",
	}, slog.Default())

	_, err := session.Begin(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBegin_Twice(t *testing.T) {
	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	t.Cleanup(session.Close)

	_, err := session.Begin(context.Background())
	require.NoError(t, err)

	_, err = session.Begin(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Begin called in state awaiting-redirect")
}

func TestBegin_AuthURLParameters(t *testing.T) {
	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	t.Cleanup(session.Close)

	req, err := session.Begin(context.Background())
	require.NoError(t, err)
	require.NotNil(t, req)

	parsed, err := url.Parse(req.URL)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "test-client-id", q.Get("client_id"))
	assert.NotEmpty(t, q.Get("state"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, req.RedirectURI, q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "offline_access")
	assert.Contains(t, q.Get("scope"), "Sites.Read.All")

	// The ephemeral port was resolved into the redirect.
	redirect, err := url.Parse(req.RedirectURI)
	require.NoError(t, err)
	assert.NotEqual(t, "0", redirect.Port())

	assert.Equal(t, StateAwaitingRedirect, session.State())
}

func TestBegin_PortInUse(t *testing.T) {
	// Occupy a port, then ask the session for exactly that port.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { blocker.Close() })

	port := blocker.Addr().(*net.TCPAddr).Port

	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(Config{
		ClientID:    "test-client-id",
		RedirectURI: fmt.Sprintf("http://127.0.0.1:%d/callback", port),
		Endpoint:    endpoint,
	}, slog.Default())

	_, err = session.Begin(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "port in use")
	assert.Equal(t, StateFailed, session.State())
}

func TestComplete_BeforeBegin(t *testing.T) {
	session := NewSession(Config{ClientID: "test-client-id"}, slog.Default())

	_, err := session.Complete(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Complete called in state not-started")
}

func TestComplete_Success(t *testing.T) {
	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, simulateBrowser(t)(req.URL))

	store, err := session.Complete(context.Background())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, StateAuthenticated, session.State())

	cred := store.Current()
	assert.Equal(t, "test-access-token", cred.AccessToken)
	assert.Equal(t, "test-refresh-token", cred.RefreshToken)
}

func TestComplete_StateMismatch(t *testing.T) {
	// Authorize endpoint returns a WRONG state value, simulating CSRF.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		callback := r.URL.Query().Get("redirect_uri") + "?code=test-auth-code&state=wrong-state-value"
		http.Redirect(w, r, callback, http.StatusFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	endpoint := oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, simulateBrowser(t)(req.URL))

	_, err = session.Complete(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "state parameter mismatch")
	assert.Equal(t, StateFailed, session.State())
}

func TestComplete_AuthorizationDenied(t *testing.T) {
	// A declined consent or failed MFA challenge comes back as an error
	// parameter on the redirect.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		callback := q.Get("redirect_uri") +
			"?error=access_denied&error_description=user+declined&state=" + url.QueryEscape(q.Get("state"))
		http.Redirect(w, r, callback, http.StatusFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	endpoint := oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, simulateBrowser(t)(req.URL))

	_, err = session.Complete(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestComplete_MissingCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		callback := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state"))
		http.Redirect(w, r, callback, http.StatusFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	endpoint := oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, simulateBrowser(t)(req.URL))

	_, err = session.Complete(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "missing authorization code")
}

func TestComplete_ContextCancel(t *testing.T) {
	// The authorize endpoint never redirects — the user walked away.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	endpoint := oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	_, err := session.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = session.Complete(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "browser flow canceled")
}

func TestComplete_ExchangeError(t *testing.T) {
	endpoint := newMockIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	})

	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, simulateBrowser(t)(req.URL))

	_, err = session.Complete(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "token exchange")
	assert.Equal(t, StateFailed, session.State())
}

func TestComplete_PKCEVerifierMatchesChallenge(t *testing.T) {
	var challenge atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge.Store(q.Get("code_challenge"))

		callback := q.Get("redirect_uri") + "?code=test-auth-code&state=" + url.QueryEscape(q.Get("state"))
		http.Redirect(w, r, callback, http.StatusFound)
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())

		verifier := r.Form.Get("code_verifier")
		assert.NotEmpty(t, verifier, "token exchange must carry the PKCE verifier")

		// The verifier must hash to the challenge sent on the authorize leg.
		sum := sha256.Sum256([]byte(verifier))
		assert.Equal(t, challenge.Load(), base64.RawURLEncoding.EncodeToString(sum[:]))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenJSON))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	endpoint := oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, simulateBrowser(t)(req.URL))

	_, err = session.Complete(context.Background())
	require.NoError(t, err)
}

func TestCallback_DuplicateHitDropped(t *testing.T) {
	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	req, err := session.Begin(context.Background())
	require.NoError(t, err)

	browser := simulateBrowser(t)
	require.NoError(t, browser(req.URL))

	// A stray second hit of the redirect URL (browser refresh) must not
	// block or corrupt the pending result.
	require.NoError(t, browser(req.URL))

	store, err := session.Complete(context.Background())
	require.NoError(t, err)

	tok, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)
}

func TestRefresh_Success(t *testing.T) {
	endpoint := newMockIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh-token", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenJSON))
	})

	session := NewSession(testSessionConfig(endpoint), slog.Default())

	cred, err := session.Refresh(context.Background(), Credential{
		RefreshToken: "old-refresh-token",
		Scopes:       []string{"Sites.Read.All"},
	})
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", cred.AccessToken)
	assert.Equal(t, "test-refresh-token", cred.RefreshToken)
	assert.Equal(t, []string{"Sites.Read.All"}, cred.Scopes)
	assert.Equal(t, StateAuthenticated, session.State())
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	session := NewSession(Config{ClientID: "test-client-id"}, slog.Default())

	_, err := session.Refresh(context.Background(), Credential{AccessToken: "only-access"})
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "no refresh token")
}

func TestRefresh_PreservesRefreshTokenWhenOmitted(t *testing.T) {
	endpoint := newMockIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenNoRefreshJSON))
	})

	session := NewSession(testSessionConfig(endpoint), slog.Default())

	cred, err := session.Refresh(context.Background(), Credential{RefreshToken: "durable-refresh"})
	require.NoError(t, err)
	assert.Equal(t, "renewed-access-token", cred.AccessToken)
	assert.Equal(t, "durable-refresh", cred.RefreshToken, "omitted refresh token must carry over")
}

func TestRefresh_RevokedToken(t *testing.T) {
	endpoint := newMockIdentityServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})

	session := NewSession(testSessionConfig(endpoint), slog.Default())

	_, err := session.Refresh(context.Background(), Credential{RefreshToken: "revoked"})
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, StateFailed, session.State())
}

func TestRefresh_InvalidClientID(t *testing.T) {
	// A session that never went through Begin still validates its config
	// before renewing.
	session := NewSession(Config{}, slog.Default())

	_, err := session.Refresh(context.Background(), Credential{RefreshToken: "r"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadStore_RefreshThroughSession(t *testing.T) {
	// Load an expired export and renew it through the session, end to end.
	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	path := t.TempDir() + "/session.json"

	seed := NewTokenStore(Credential{
		AccessToken:  "expired-access",
		RefreshToken: "saved-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}, nil, slog.Default())
	require.NoError(t, seed.SaveTo(path, nil))

	store, err := LoadStore(path, session.Refresh, slog.Default())
	require.NoError(t, err)

	cred, err := store.GetValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", cred.AccessToken)
}

func TestSession_CloseIdempotent(t *testing.T) {
	endpoint := newMockIdentityServer(t, nil)
	session := NewSession(testSessionConfig(endpoint), slog.Default())

	_, err := session.Begin(context.Background())
	require.NoError(t, err)

	session.Close()
	session.Close()
}

func TestGenerateState(t *testing.T) {
	state1, err := generateState()
	require.NoError(t, err)
	assert.Len(t, state1, stateTokenBytes*2) // hex encoding doubles the length

	state2, err := generateState()
	require.NoError(t, err)
	assert.NotEqual(t, state1, state2, "consecutive states should differ")
}

func TestValidateClientID(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		wantErr  bool
	}{
		{"valid GUID", "12345678-abcd-ef01-2345-6789abcdef01", false},
		{"empty", "", true},
		{"embedded space", "client id", true},
		{"embedded tab", "client\tid", true},
		{"embedded newline", "client\nid", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateClientID(tt.clientID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseRedirectURI(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantHost string
		wantPort string
		wantPath string
		wantErr  bool
	}{
		{"localhost with port", "http://localhost:8080/callback", "localhost", "8080", "/callback", false},
		{"loopback IP", "http://127.0.0.1:9999/cb", "127.0.0.1", "9999", "/cb", false},
		{"no port", "http://localhost/callback", "localhost", "", "/callback", false},
		{"no path", "http://localhost:8080", "localhost", "8080", "/", false},
		{"https rejected", "https://localhost:8080/callback", "", "", "", true},
		{"non-loopback host", "http://example.com/callback", "", "", "", true},
		{"garbage", "://not-a-uri", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, path, err := parseRedirectURI(tt.uri)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "not-started"},
		{StateAwaitingRedirect, "awaiting-redirect"},
		{StateExchanging, "exchanging"},
		{StateAuthenticated, "authenticated"},
		{StateRefreshing, "refreshing"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
