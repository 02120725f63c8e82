package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config" command, giving users
// visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	ew.printf("[sharepoint]\n")
	ew.printf("  site_url = %q\n\n", cfg.SharePoint.SiteURL)

	ew.printf("[auth]\n")
	ew.printf("  client_id       = %q\n", cfg.Auth.ClientID)
	ew.printf("  tenant_id       = %q\n", cfg.Auth.TenantID)
	ew.printf("  redirect_uri    = %q\n", cfg.Auth.RedirectURI)
	ew.printf("  credential_file = %q\n\n", cfg.Auth.CredentialFile)

	ew.printf("[scan]\n")
	ew.printf("  parallel_listings   = %d\n", cfg.Scan.ParallelListings)
	ew.printf("  requests_per_second = %g\n\n", cfg.Scan.RequestsPerSecond)

	ew.printf("[transfer]\n")
	ew.printf("  parallel_downloads = %d\n", cfg.Transfer.ParallelDownloads)
	ew.printf("  output_dir         = %q\n", cfg.Transfer.OutputDir)
	ew.printf("  ledger_file        = %q\n\n", cfg.Transfer.LedgerFile)

	ew.printf("[bedrock]\n")
	ew.printf("  knowledge_base_id = %q\n", cfg.Bedrock.KnowledgeBaseID)
	ew.printf("  data_source_id    = %q\n", cfg.Bedrock.DataSourceID)
	ew.printf("  region            = %q\n", cfg.Bedrock.Region)
	ew.printf("  poll_timeout      = %q\n", cfg.Bedrock.PollTimeout)
	ew.printf("  poll_interval     = %q\n\n", cfg.Bedrock.PollInterval)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  request_timeout = %q\n", cfg.Network.RequestTimeout)

	return ew.err
}

// RenderReadiness writes per-component readiness status to w: which
// commands would run with the current settings and which are missing
// required values.
func RenderReadiness(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("\n# Component readiness\n\n")

	if err := cfg.SharePointReady(); err != nil {
		ew.printf("  sharepoint (test, scan, download): NOT READY\n")
		renderReasons(ew, err)
	} else {
		ew.printf("  sharepoint (test, scan, download): ready\n")
	}

	if err := cfg.BedrockReady(); err != nil {
		ew.printf("  bedrock (ingest, download --bedrock): NOT READY\n")
		renderReasons(ew, err)
	} else {
		ew.printf("  bedrock (ingest, download --bedrock): ready\n")
	}

	return ew.err
}

// renderReasons prints each joined readiness error on its own line.
func renderReasons(ew *errWriter, err error) {
	type unwrapper interface{ Unwrap() []error }

	if joined, ok := err.(unwrapper); ok {
		for _, e := range joined.Unwrap() {
			ew.printf("    - %s\n", e)
		}

		return
	}

	ew.printf("    - %s\n", err)
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
