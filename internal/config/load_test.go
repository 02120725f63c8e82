package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[sharepoint]
site_url = "https://contoso.sharepoint.com/sites/documents"

[auth]
client_id = "11111111-2222-3333-4444-555555555555"
tenant_id = "contoso.onmicrosoft.com"
redirect_uri = "http://localhost:9090/callback"
credential_file = "/var/lib/sp/credentials.json"

[scan]
parallel_listings = 8
requests_per_second = 5.0

[transfer]
parallel_downloads = 2
output_dir = "/srv/documents"
ledger_file = "/var/lib/sp/ledger.db"

[bedrock]
knowledge_base_id = "KB12345678"
data_source_id = "DS12345678"
region = "eu-west-1"
poll_timeout = "10m"
poll_interval = "10s"

[logging]
log_level = "debug"
log_format = "json"

[network]
connect_timeout = "30s"
request_timeout = "2m"
`

	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://contoso.sharepoint.com/sites/documents", cfg.SharePoint.SiteURL)

	assert.Equal(t, "11111111-2222-3333-4444-555555555555", cfg.Auth.ClientID)
	assert.Equal(t, "contoso.onmicrosoft.com", cfg.Auth.TenantID)
	assert.Equal(t, "http://localhost:9090/callback", cfg.Auth.RedirectURI)
	assert.Equal(t, "/var/lib/sp/credentials.json", cfg.Auth.CredentialFile)

	assert.Equal(t, 8, cfg.Scan.ParallelListings)
	assert.InDelta(t, 5.0, cfg.Scan.RequestsPerSecond, 0.001)

	assert.Equal(t, 2, cfg.Transfer.ParallelDownloads)
	assert.Equal(t, "/srv/documents", cfg.Transfer.OutputDir)
	assert.Equal(t, "/var/lib/sp/ledger.db", cfg.Transfer.LedgerFile)

	assert.Equal(t, "KB12345678", cfg.Bedrock.KnowledgeBaseID)
	assert.Equal(t, "DS12345678", cfg.Bedrock.DataSourceID)
	assert.Equal(t, "eu-west-1", cfg.Bedrock.Region)
	assert.Equal(t, "10m", cfg.Bedrock.PollTimeout)
	assert.Equal(t, "10s", cfg.Bedrock.PollInterval)

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)

	assert.Equal(t, "30s", cfg.Network.ConnectTimeout)
	assert.Equal(t, "2m", cfg.Network.RequestTimeout)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[sharepoint]
site_url = "https://contoso.sharepoint.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://contoso.sharepoint.com", cfg.SharePoint.SiteURL)
	assert.Equal(t, defaultTenantID, cfg.Auth.TenantID)
	assert.Equal(t, defaultRedirectURI, cfg.Auth.RedirectURI)
	assert.Equal(t, defaultParallelDownloads, cfg.Transfer.ParallelDownloads)
	assert.Equal(t, defaultOutputDir, cfg.Transfer.OutputDir)
	assert.Equal(t, defaultRegion, cfg.Bedrock.Region)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `this is not toml [[[`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTestConfig(t, `
[sharepoint]
site_urll = "https://contoso.sharepoint.com"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), "sharepoint.site_url")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeTestConfig(t, `
[transfer]
parallel_downloads = 99
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel_downloads")
}

func TestLoadOrDefault_NoFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, defaultTenantID, cfg.Auth.TenantID)
	assert.Empty(t, cfg.SharePoint.SiteURL)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, defaultParallelDownloads, cfg.Transfer.ParallelDownloads)
}

func TestLoadOrDefault_ExistingFile(t *testing.T) {
	path := writeTestConfig(t, `
[auth]
client_id = "from-file"
`)

	cfg, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.ClientID)
}

func TestResolve_PrecedenceChain(t *testing.T) {
	// File says one thing, env another, CLI a third: CLI wins, env beats
	// file, file beats defaults.
	path := writeTestConfig(t, `
[sharepoint]
site_url = "https://file.sharepoint.com"

[auth]
client_id = "file-client"
tenant_id = "file-tenant"

[transfer]
output_dir = "file-dir"
`)

	cliSite := "https://cli.sharepoint.com"
	env := EnvOverrides{
		ConfigPath: path,
		SiteURL:    "https://env.sharepoint.com",
		ClientID:   "env-client",
	}
	cli := CLIOverrides{SiteURL: &cliSite}

	cfg, err := Resolve(env, cli)
	require.NoError(t, err)

	assert.Equal(t, "https://cli.sharepoint.com", cfg.SharePoint.SiteURL, "CLI beats env")
	assert.Equal(t, "env-client", cfg.Auth.ClientID, "env beats file")
	assert.Equal(t, "file-tenant", cfg.Auth.TenantID, "file beats defaults")
	assert.Equal(t, "file-dir", cfg.Transfer.OutputDir)
}

func TestResolve_CLIConfigPathBeatsEnv(t *testing.T) {
	cliPath := writeTestConfig(t, `
[auth]
client_id = "cli-file"
`)
	envPath := writeTestConfig(t, `
[auth]
client_id = "env-file"
`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, "cli-file", cfg.Auth.ClientID)
}

func TestResolve_ZeroConfig(t *testing.T) {
	// No file anywhere, just env vars — the original deployment mode.
	env := EnvOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "no-such-file.toml"),
		SiteURL:    "https://contoso.sharepoint.com/sites/docs",
		ClientID:   "env-client-id",
	}

	cfg, err := Resolve(env, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://contoso.sharepoint.com/sites/docs", cfg.SharePoint.SiteURL)
	assert.Equal(t, "env-client-id", cfg.Auth.ClientID)
	assert.NoError(t, cfg.SharePointReady())
}

func TestResolve_FillsPathDefaults(t *testing.T) {
	env := EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")}

	cfg, err := Resolve(env, CLIOverrides{})
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Auth.CredentialFile)
	assert.NotEmpty(t, cfg.Transfer.LedgerFile)
	assert.Contains(t, cfg.Auth.CredentialFile, "credentials.json")
	assert.Contains(t, cfg.Transfer.LedgerFile, "ledger.db")
}

func TestResolve_CLIParallelOverride(t *testing.T) {
	parallel := 2
	env := EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")}

	cfg, err := Resolve(env, CLIOverrides{Parallel: &parallel})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Transfer.ParallelDownloads)
}

func TestResolve_InvalidCLIValueFails(t *testing.T) {
	parallel := 999
	env := EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")}

	_, err := Resolve(env, CLIOverrides{Parallel: &parallel})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel_downloads")
}
