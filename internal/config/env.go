package config

import "os"

// Environment variable names. The SharePoint/Azure/Bedrock names predate
// the config file and stay authoritative for deployments that only set
// the environment.
const (
	EnvConfig = "SHAREPOINT_CONNECTOR_CONFIG"

	EnvSiteURL     = "SHAREPOINT_SITE_URL"
	EnvClientID    = "AZURE_CLIENT_ID"
	EnvTenantID    = "AZURE_TENANT_ID"
	EnvRedirectURI = "AZURE_REDIRECT_URI"

	EnvKnowledgeBaseID = "BEDROCK_KNOWLEDGE_BASE_ID"
	EnvDataSourceID    = "BEDROCK_DATA_SOURCE_ID"
	EnvRegion          = "AWS_REGION"
)

// EnvOverrides holds values read from environment variables. Empty fields
// mean the variable was unset and the layer below wins.
type EnvOverrides struct {
	ConfigPath string

	SiteURL     string
	ClientID    string
	TenantID    string
	RedirectURI string

	KnowledgeBaseID string
	DataSourceID    string
	Region          string
}

// ReadEnvOverrides reads the environment once. Callers pass the result to
// Resolve; tests construct their own EnvOverrides instead of mutating the
// process environment.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:      os.Getenv(EnvConfig),
		SiteURL:         os.Getenv(EnvSiteURL),
		ClientID:        os.Getenv(EnvClientID),
		TenantID:        os.Getenv(EnvTenantID),
		RedirectURI:     os.Getenv(EnvRedirectURI),
		KnowledgeBaseID: os.Getenv(EnvKnowledgeBaseID),
		DataSourceID:    os.Getenv(EnvDataSourceID),
		Region:          os.Getenv(EnvRegion),
	}
}

// applyEnv overlays non-empty environment values onto cfg.
func applyEnv(cfg *Config, env EnvOverrides) {
	if env.SiteURL != "" {
		cfg.SharePoint.SiteURL = env.SiteURL
	}

	if env.ClientID != "" {
		cfg.Auth.ClientID = env.ClientID
	}

	if env.TenantID != "" {
		cfg.Auth.TenantID = env.TenantID
	}

	if env.RedirectURI != "" {
		cfg.Auth.RedirectURI = env.RedirectURI
	}

	if env.KnowledgeBaseID != "" {
		cfg.Bedrock.KnowledgeBaseID = env.KnowledgeBaseID
	}

	if env.DataSourceID != "" {
		cfg.Bedrock.DataSourceID = env.DataSourceID
	}

	if env.Region != "" {
		cfg.Bedrock.Region = env.Region
	}
}

// applyCLI overlays explicitly-set CLI flag values onto cfg. Pointer
// fields are nil when the flag was not passed.
func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.SiteURL != nil {
		cfg.SharePoint.SiteURL = *cli.SiteURL
	}

	if cli.ClientID != nil {
		cfg.Auth.ClientID = *cli.ClientID
	}

	if cli.TenantID != nil {
		cfg.Auth.TenantID = *cli.TenantID
	}

	if cli.OutputDir != nil {
		cfg.Transfer.OutputDir = *cli.OutputDir
	}

	if cli.Parallel != nil {
		cfg.Transfer.ParallelDownloads = *cli.Parallel
	}
}
