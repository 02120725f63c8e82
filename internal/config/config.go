// Package config implements TOML configuration loading, validation, and
// platform path resolution for sharepoint-connector. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags). Environment variable names match the ones the tool has always
// honored (SHAREPOINT_SITE_URL, AZURE_CLIENT_ID, ...), so existing
// deployments keep working without a config file.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	SharePoint SharePointConfig `toml:"sharepoint"`
	Auth       AuthConfig       `toml:"auth"`
	Scan       ScanConfig       `toml:"scan"`
	Transfer   TransferConfig   `toml:"transfer"`
	Bedrock    BedrockConfig    `toml:"bedrock"`
	Logging    LoggingConfig    `toml:"logging"`
	Network    NetworkConfig    `toml:"network"`
}

// SharePointConfig identifies the site to scan.
type SharePointConfig struct {
	// SiteURL is the full https URL of the SharePoint site, e.g.
	// https://contoso.sharepoint.com/sites/documents. The tenant root site
	// is just https://contoso.sharepoint.com.
	SiteURL string `toml:"site_url"`
}

// AuthConfig holds the Azure AD application identity for the delegated
// browser flow. There is no client secret: the app is a public client and
// PKCE carries the proof.
type AuthConfig struct {
	ClientID    string `toml:"client_id"`
	TenantID    string `toml:"tenant_id"`
	RedirectURI string `toml:"redirect_uri"`

	// CredentialFile is where login exports tokens and later runs read
	// them back. Empty means the platform data directory.
	CredentialFile string `toml:"credential_file"`
}

// ScanConfig controls catalog discovery: how many folder listings run in
// parallel and the global request rate cap across all of them.
type ScanConfig struct {
	ParallelListings  int     `toml:"parallel_listings"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TransferConfig controls the download pool and where files land.
type TransferConfig struct {
	ParallelDownloads int    `toml:"parallel_downloads"`
	OutputDir         string `toml:"output_dir"`

	// LedgerFile is the SQLite journal of past runs. Empty means the
	// platform data directory.
	LedgerFile string `toml:"ledger_file"`
}

// BedrockConfig holds the Knowledge Base targets for ingestion. Region
// falls back to us-east-1; the AWS SDK's own credential chain (env,
// profile, IMDS) supplies the AWS identity.
type BedrockConfig struct {
	KnowledgeBaseID string `toml:"knowledge_base_id"`
	DataSourceID    string `toml:"data_source_id"`
	Region          string `toml:"region"`
	PollTimeout     string `toml:"poll_timeout"`
	PollInterval    string `toml:"poll_interval"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior. RequestTimeout of "0"
// disables the overall cap — downloads of large documents must be allowed
// to stream for as long as they need.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)

	SiteURL   *string // --site-url
	ClientID  *string // --client-id
	TenantID  *string // --tenant-id
	OutputDir *string // --output-dir
	Parallel  *int    // --parallel
}
