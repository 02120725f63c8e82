package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faidrapts/sharepoint-connector/internal/config"
)

// saveGlobals snapshots the flag globals and resolved config so a test can
// mutate them freely. newRootCmd() re-binds flags and resets the globals,
// so tests set values after building commands, never before.
func saveGlobals(t *testing.T) {
	t.Helper()

	oldConfigPath := flagConfigPath
	oldSiteURL := flagSiteURL
	oldClientID := flagClientID
	oldTenantID := flagTenantID
	oldJSON := flagJSON
	oldVerbose := flagVerbose
	oldQuiet := flagQuiet
	oldOutputDir := flagOutputDir
	oldParallel := flagParallel
	oldCfg := resolvedCfg

	t.Cleanup(func() {
		flagConfigPath = oldConfigPath
		flagSiteURL = oldSiteURL
		flagClientID = oldClientID
		flagTenantID = oldTenantID
		flagJSON = oldJSON
		flagVerbose = oldVerbose
		flagQuiet = oldQuiet
		flagOutputDir = oldOutputDir
		flagParallel = oldParallel
		resolvedCfg = oldCfg
	})
}

// clearEnv points the config path at a nonexistent file and blanks every
// environment override so tests see only what they set themselves.
func clearEnv(t *testing.T) {
	t.Helper()

	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "absent.toml"))
	t.Setenv(config.EnvSiteURL, "")
	t.Setenv(config.EnvClientID, "")
	t.Setenv(config.EnvTenantID, "")
	t.Setenv(config.EnvRedirectURI, "")
	t.Setenv(config.EnvKnowledgeBaseID, "")
	t.Setenv(config.EnvDataSourceID, "")
	t.Setenv(config.EnvRegion, "")
}

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	saveGlobals(t)

	flagVerbose = false
	flagQuiet = false
	resolvedCfg = config.DefaultConfig()

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Verbose(t *testing.T) {
	saveGlobals(t)

	flagVerbose = true
	flagQuiet = false
	resolvedCfg = config.DefaultConfig()

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	saveGlobals(t)

	flagVerbose = false
	flagQuiet = true
	resolvedCfg = config.DefaultConfig()

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_ConfigLevel(t *testing.T) {
	saveGlobals(t)

	flagVerbose = false
	flagQuiet = false
	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogLevel = "warn"

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

// --- loadConfig tests ---

func TestLoadConfig_Defaults(t *testing.T) {
	saveGlobals(t)
	clearEnv(t)

	flagConfigPath = ""

	require.NoError(t, loadConfig(&cobra.Command{}))

	assert.Equal(t, "downloads", resolvedCfg.Transfer.OutputDir)
	assert.Equal(t, "common", resolvedCfg.Auth.TenantID)
	assert.Empty(t, resolvedCfg.SharePoint.SiteURL)
	assert.NotEmpty(t, resolvedCfg.Auth.CredentialFile)
	assert.NotEmpty(t, resolvedCfg.Transfer.LedgerFile)
}

func TestLoadConfig_FlagOverridesEnv(t *testing.T) {
	saveGlobals(t)
	clearEnv(t)

	t.Setenv(config.EnvSiteURL, "https://env.sharepoint.com/sites/env")

	flagConfigPath = ""
	flagSiteURL = "https://flag.sharepoint.com/sites/flag"

	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&flagSiteURL, "site-url", flagSiteURL, "")
	require.NoError(t, cmd.Flags().Set("site-url", "https://flag.sharepoint.com/sites/flag"))

	require.NoError(t, loadConfig(cmd))

	assert.Equal(t, "https://flag.sharepoint.com/sites/flag", resolvedCfg.SharePoint.SiteURL)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	saveGlobals(t)
	clearEnv(t)

	t.Setenv(config.EnvSiteURL, "https://env.sharepoint.com/sites/env")
	t.Setenv(config.EnvClientID, "11111111-2222-3333-4444-555555555555")

	flagConfigPath = ""

	require.NoError(t, loadConfig(&cobra.Command{}))

	assert.Equal(t, "https://env.sharepoint.com/sites/env", resolvedCfg.SharePoint.SiteURL)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", resolvedCfg.Auth.ClientID)
}

func TestLoadConfig_RejectsBadFlagValue(t *testing.T) {
	saveGlobals(t)
	clearEnv(t)

	flagConfigPath = ""
	flagParallel = 99

	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "")
	require.NoError(t, cmd.Flags().Set("parallel", "99"))

	err := loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel_downloads")
}

// --- root command wiring ---

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"login", "logout", "test", "scan", "download", "ingest", "status", "config"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewHTTPClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Network.RequestTimeout = "45s"

	client := newHTTPClient(cfg)
	assert.Equal(t, "45s", client.Timeout.String())

	cfg.Network.RequestTimeout = "0"
	client = newHTTPClient(cfg)
	assert.Zero(t, client.Timeout)
}
