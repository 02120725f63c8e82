package config

// Default values for configuration options. These are "layer 0" of the
// override chain and match the behavior the tool shipped with: downloads
// land in ./downloads, the multi-tenant login endpoint, us-east-1 Bedrock.
const (
	defaultTenantID          = "common"
	defaultRedirectURI       = "http://localhost:8080/callback"
	defaultParallelListings  = 4
	defaultRequestsPerSec    = 10.0
	defaultParallelDownloads = 4
	defaultOutputDir         = "downloads"
	defaultRegion            = "us-east-1"
	defaultPollTimeout       = "5m"
	defaultPollInterval      = "5s"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultConnectTimeout    = "10s"
	defaultRequestTimeout    = "0"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding (unset fields retain
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			TenantID:    defaultTenantID,
			RedirectURI: defaultRedirectURI,
		},
		Scan: ScanConfig{
			ParallelListings:  defaultParallelListings,
			RequestsPerSecond: defaultRequestsPerSec,
		},
		Transfer: TransferConfig{
			ParallelDownloads: defaultParallelDownloads,
			OutputDir:         defaultOutputDir,
		},
		Bedrock: BedrockConfig{
			Region:       defaultRegion,
			PollTimeout:  defaultPollTimeout,
			PollInterval: defaultPollInterval,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
	}
}
