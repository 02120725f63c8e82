// Package auth implements the delegated OAuth2 session against the
// Microsoft identity platform: the interactive authorization code + PKCE
// browser flow, silent refresh-token renewal, and a concurrency-safe token
// store that the Graph client draws bearer tokens from.
//
// MFA and conditional-access challenges happen inside the hosted login
// pages; locally the flow only distinguishes success from failure.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrInvalidConfig indicates a malformed client ID or redirect URI.
	// This is a setup problem — retrying cannot help.
	ErrInvalidConfig = errors.New("auth: invalid configuration")

	// ErrAuthentication indicates the interactive flow or a token renewal
	// failed. The caller must restart the interactive flow.
	ErrAuthentication = errors.New("auth: authentication failed")

	// ErrNotLoggedIn indicates no exported credential exists at the
	// requested path.
	ErrNotLoggedIn = errors.New("auth: not logged in")
)

// defaultScopes covers site discovery, document reads, profile display,
// and refresh tokens (offline_access).
var defaultScopes = []string{
	"offline_access",
	"Sites.Read.All",
	"Files.Read.All",
	"User.Read",
}

const (
	// defaultRedirectURI matches the loopback redirect registered for the
	// Azure app. The port is honored exactly; a URI without a port makes
	// Begin bind an ephemeral one.
	defaultRedirectURI = "http://localhost:8080/callback"

	defaultTenant = "common"

	// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
	stateTokenBytes = 16

	// shutdownTimeout is how long to wait for the callback server to drain.
	shutdownTimeout = 5 * time.Second
)

// State tracks the session's position in the authorization flow.
type State int

const (
	StateNotStarted State = iota
	StateAwaitingRedirect
	StateExchanging
	StateAuthenticated
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateAwaitingRedirect:
		return "awaiting-redirect"
	case StateExchanging:
		return "exchanging"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the identity parameters for a session.
type Config struct {
	ClientID    string
	TenantID    string // empty means the multi-tenant "common" endpoint
	RedirectURI string // empty means defaultRedirectURI
	Scopes      []string

	// Endpoint overrides the Microsoft identity endpoints.
	// Tests point this at a mock server; production leaves it zero.
	Endpoint oauth2.Endpoint
}

// AuthRequest is the outcome of Begin: the URL the user's browser must
// visit and the exact redirect the identity service will call back.
type AuthRequest struct {
	URL         string
	RedirectURI string
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// Session drives one interactive authorization flow. Not safe for
// concurrent use; the flow is inherently sequential (Begin, then the
// human, then Complete). The TokenStore it produces is the concurrent
// piece.
type Session struct {
	cfg      Config
	oauthCfg *oauth2.Config
	logger   *slog.Logger

	mu    sync.Mutex
	state State

	verifier   string
	stateToken string
	srv        *http.Server
	resultCh   chan callbackResult
}

// NewSession builds a session from the given config. Validation is
// deferred to Begin so misconfiguration surfaces exactly where the flow
// starts.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg:    cfg,
		logger: logger,
		state:  StateNotStarted,
	}
}

// State returns the session's current flow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Begin validates the configuration, generates the PKCE verifier and state
// token, binds the loopback callback listener, and returns the
// authorization URL for the browser. The listener stays bound until
// Complete or Close.
func (s *Session) Begin(ctx context.Context) (*AuthRequest, error) {
	if st := s.State(); st != StateNotStarted {
		return nil, fmt.Errorf("auth: Begin called in state %s", st)
	}

	if err := validateClientID(s.cfg.ClientID); err != nil {
		s.setState(StateFailed)
		return nil, err
	}

	redirectURI := s.cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	host, port, callbackPath, err := parseRedirectURI(redirectURI)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}

	scopes := s.cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	endpoint := s.cfg.Endpoint
	if endpoint.AuthURL == "" {
		tenant := s.cfg.TenantID
		if tenant == "" {
			tenant = defaultTenant
		}

		endpoint = microsoft.AzureADEndpoint(tenant)
	}

	s.oauthCfg = &oauth2.Config{
		ClientID: s.cfg.ClientID,
		Scopes:   scopes,
		Endpoint: endpoint,
	}

	// PKCE verifier and CSRF state before the listener goes live, so the
	// callback handler can validate from the first request. The proof key
	// is not optional — every authorization URL carries the challenge.
	s.verifier = oauth2.GenerateVerifier()

	s.stateToken, err = generateState()
	if err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("auth: generating state token: %w", err)
	}

	s.resultCh = make(chan callbackResult, 1)

	boundPort, err := s.startCallbackServer(ctx, host, port, callbackPath)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}

	// Rewrite the redirect with the bound port — identical to the
	// configured URI unless the port was left to us.
	s.oauthCfg.RedirectURL = fmt.Sprintf("http://%s:%d%s", host, boundPort, callbackPath)

	authURL := s.oauthCfg.AuthCodeURL(s.stateToken,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(s.verifier),
	)

	s.setState(StateAwaitingRedirect)

	s.logger.Info("authorization flow started",
		slog.String("redirect_uri", s.oauthCfg.RedirectURL),
		slog.Int("port", boundPort),
	)

	return &AuthRequest{URL: authURL, RedirectURI: s.oauthCfg.RedirectURL}, nil
}

// Complete blocks until the browser redirect arrives, then exchanges the
// authorization code (with the PKCE verifier) for tokens and returns a
// TokenStore primed with the resulting credential. The callback listener
// is torn down on every path.
func (s *Session) Complete(ctx context.Context) (*TokenStore, error) {
	if st := s.State(); st != StateAwaitingRedirect {
		return nil, fmt.Errorf("auth: Complete called in state %s", st)
	}

	defer s.Close()

	code, err := s.waitForCallback(ctx)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}

	s.setState(StateExchanging)
	s.logger.Info("received authorization code, exchanging for token")

	tok, err := s.oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(s.verifier))
	if err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("%w: token exchange: %w", ErrAuthentication, err)
	}

	s.setState(StateAuthenticated)
	s.logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	cred := credentialFromToken(tok, s.oauthCfg.Scopes)

	return NewTokenStore(cred, s.Refresh, s.logger), nil
}

// Refresh performs the refresh-token grant and returns the renewed
// credential. An absent, expired, or revoked refresh token fails with
// ErrAuthentication — the caller must restart the interactive flow.
func (s *Session) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		return Credential{}, fmt.Errorf("%w: no refresh token held", ErrAuthentication)
	}

	cfg := s.oauthCfg
	if cfg == nil {
		// Session never went through Begin — build the config standalone so
		// a store loaded from disk can still renew.
		built, err := s.buildOAuthConfig()
		if err != nil {
			return Credential{}, err
		}

		cfg = built
	}

	if prev := s.State(); prev == StateAuthenticated {
		s.setState(StateRefreshing)
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		s.setState(StateFailed)
		return Credential{}, fmt.Errorf("%w: refresh: %w", ErrAuthentication, err)
	}

	s.setState(StateAuthenticated)
	s.logger.Info("credential renewed", slog.Time("expiry", tok.Expiry))

	fresh := credentialFromToken(tok, cred.Scopes)
	if fresh.RefreshToken == "" {
		// Identity service may omit the refresh token when it is unchanged.
		fresh.RefreshToken = cred.RefreshToken
	}

	return fresh, nil
}

// Close tears down the callback listener if it is still bound. Safe to
// call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Best-effort shutdown — log but don't propagate since callers
		// invoke this from defers.
		s.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// Login is the one-shot convenience the CLI uses: Begin, open the
// browser, Complete.
//
// openURL is called with the authorization URL; the CLI uses it to launch
// the default browser. If openURL returns an error, the URL is printed to
// stderr so the user can open it manually.
func Login(ctx context.Context, cfg Config, openURL func(string) error, logger *slog.Logger) (*TokenStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	session := NewSession(cfg, logger)
	defer session.Close()

	req, err := session.Begin(ctx)
	if err != nil {
		return nil, err
	}

	launchBrowser(req.URL, openURL, logger)

	return session.Complete(ctx)
}

// buildOAuthConfig assembles the oauth2 config outside the Begin path,
// for sessions that only ever refresh.
func (s *Session) buildOAuthConfig() (*oauth2.Config, error) {
	if err := validateClientID(s.cfg.ClientID); err != nil {
		return nil, err
	}

	scopes := s.cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	endpoint := s.cfg.Endpoint
	if endpoint.AuthURL == "" {
		tenant := s.cfg.TenantID
		if tenant == "" {
			tenant = defaultTenant
		}

		endpoint = microsoft.AzureADEndpoint(tenant)
	}

	s.oauthCfg = &oauth2.Config{
		ClientID: s.cfg.ClientID,
		Scopes:   scopes,
		Endpoint: endpoint,
	}

	return s.oauthCfg, nil
}

// startCallbackServer binds the loopback listener and starts serving the
// callback handler. An empty port binds an ephemeral one. Returns the
// bound port.
func (s *Session) startCallbackServer(ctx context.Context, host, port, callbackPath string) (int, error) {
	if port == "" {
		port = "0"
	}

	// Bind 127.0.0.1 regardless of whether the redirect says localhost —
	// the registered URI and the bound socket must agree on IPv4.
	addr := net.JoinHostPort("127.0.0.1", port)

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("%w: binding callback listener on %s (port in use by another process?): %w",
			ErrAuthentication, addr, err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return 0, fmt.Errorf("auth: listener address is not TCP")
	}

	boundPort := tcpAddr.Port
	s.logger.Info("callback server listening", slog.Int("port", boundPort))

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		s.handleCallback(w, r)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	resultCh := s.resultCh

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}
		}
	}()

	return boundPort, nil
}

// handleCallback validates the state, extracts the code, and sends the result.
func (s *Session) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Validate state to prevent CSRF.
	if r.URL.Query().Get("state") != s.stateToken {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		s.sendResult(callbackResult{err: fmt.Errorf("%w: state parameter mismatch (possible CSRF)", ErrAuthentication)})

		return
	}

	// Check for error from the authorization server. A declined MFA
	// challenge or denied consent lands here.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		s.sendResult(callbackResult{err: fmt.Errorf("%w: %s: %s", ErrAuthentication, errParam, desc)})

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		s.sendResult(callbackResult{err: fmt.Errorf("%w: callback missing authorization code", ErrAuthentication)})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	s.sendResult(callbackResult{code: code})
}

// sendResult delivers the first callback outcome; stray repeat hits of the
// redirect URL are dropped rather than blocking the handler.
func (s *Session) sendResult(res callbackResult) {
	select {
	case s.resultCh <- res:
	default:
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func (s *Session) waitForCallback(ctx context.Context) (string, error) {
	select {
	case result := <-s.resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("auth: browser flow canceled: %w", ctx.Err())
	}
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr as a fallback so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// validateClientID rejects empty or whitespace-bearing client IDs before
// the flow starts — Azure client IDs are GUIDs.
func validateClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("%w: client ID is empty", ErrInvalidConfig)
	}

	if strings.ContainsAny(clientID, " \t\n") {
		return fmt.Errorf("%w: client ID %q contains whitespace", ErrInvalidConfig, clientID)
	}

	return nil
}

// parseRedirectURI splits a loopback redirect URI into its host, optional
// port, and callback path.
func parseRedirectURI(raw string) (host, port, callbackPath string, err error) {
	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", "", fmt.Errorf("%w: redirect URI %q: %w", ErrInvalidConfig, raw, parseErr)
	}

	if u.Scheme != "http" {
		return "", "", "", fmt.Errorf("%w: redirect URI %q must use http (loopback only)", ErrInvalidConfig, raw)
	}

	host = u.Hostname()
	if host != "localhost" && host != "127.0.0.1" {
		return "", "", "", fmt.Errorf("%w: redirect URI %q must point at localhost", ErrInvalidConfig, raw)
	}

	callbackPath = u.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	return host, u.Port(), callbackPath, nil
}
