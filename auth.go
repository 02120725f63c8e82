package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/auth"
	"github.com/faidrapts/sharepoint-connector/internal/tokenfile"
)

var flagTokenCache string

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to SharePoint through the browser",
		Long: `Open the Microsoft sign-in page in the default browser and complete the
authorization code flow. The resulting tokens are exported to the
credential file for later commands to use.`,
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagTokenCache, "token-cache", "", "credential file path (default: platform data dir)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the exported credential file",
		RunE:  runLogout,
	}

	cmd.Flags().StringVar(&flagTokenCache, "token-cache", "", "credential file path (default: platform data dir)")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	store, err := auth.Login(ctx, sessionConfig(), openBrowser, logger)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	path := credentialPath()
	meta := map[string]string{
		"site_url":  resolvedCfg.SharePoint.SiteURL,
		"client_id": resolvedCfg.Auth.ClientID,
		"tenant_id": resolvedCfg.Auth.TenantID,
	}

	if err := store.SaveTo(path, meta); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	logger.Info("login successful", slog.String("credential_file", path))
	statusf("Signed in. Credentials saved to %s\n", path)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	path := credentialPath()

	if err := tokenfile.Remove(path); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	logger.Info("logout successful", slog.String("credential_file", path))
	statusf("Logged out.\n")

	return nil
}

// sessionConfig maps the resolved configuration onto the auth package's
// session parameters.
func sessionConfig() auth.Config {
	return auth.Config{
		ClientID:    resolvedCfg.Auth.ClientID,
		TenantID:    resolvedCfg.Auth.TenantID,
		RedirectURI: resolvedCfg.Auth.RedirectURI,
	}
}

// credentialPath is where tokens are exported to and loaded from:
// --token-cache when given, otherwise the resolved config value (which
// defaults to the platform data directory).
func credentialPath() string {
	if flagTokenCache != "" {
		return flagTokenCache
	}

	return resolvedCfg.Auth.CredentialFile
}

// loadCredentials builds the token store every SharePoint command shares:
// the exported credential plus a refresh-only session to renew it.
// Refreshed tokens are re-exported so the next invocation starts fresh.
func loadCredentials(logger *slog.Logger) (*auth.TokenStore, error) {
	session := auth.NewSession(sessionConfig(), logger)

	path := credentialPath()

	store, err := auth.LoadStore(path, session.Refresh, logger)
	if err != nil {
		if errors.Is(err, auth.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in: run 'sharepoint-connector login' first")
		}

		return nil, err
	}

	store.PersistTo(path)

	return store, nil
}

// openBrowser launches the platform's default browser at url.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}

	return cmd.Start()
}
