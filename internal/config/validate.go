package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrMissingSetting marks a required setting that has no value from any
// layer. Commands check readiness up front and fail fast with this rather
// than dying mid-run.
var ErrMissingSetting = errors.New("config: missing required setting")

// Validation range constants.
const (
	minParallel       = 1
	maxParallel       = 16
	maxRequestsPerSec = 100.0
	minPollInterval   = time.Second
	minConnectTimeout = time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSharePoint(&cfg.SharePoint)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateScan(&cfg.Scan)...)
	errs = append(errs, validateTransfer(&cfg.Transfer)...)
	errs = append(errs, validateBedrock(&cfg.Bedrock)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateSharePoint(s *SharePointConfig) []error {
	// Absence is legal here — readiness is checked per command. Only a
	// malformed value is a validation error.
	if s.SiteURL == "" {
		return nil
	}

	u, err := url.Parse(s.SiteURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return []error{fmt.Errorf("sharepoint.site_url: must be a full https URL, got %q", s.SiteURL)}
	}

	return nil
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.RedirectURI != "" {
		u, err := url.Parse(a.RedirectURI)
		if err != nil || u.Scheme != "http" {
			errs = append(errs, fmt.Errorf(
				"auth.redirect_uri: must be an http loopback URL, got %q", a.RedirectURI))
		} else if host := u.Hostname(); host != "localhost" && host != "127.0.0.1" {
			errs = append(errs, fmt.Errorf(
				"auth.redirect_uri: host must be localhost or 127.0.0.1, got %q", host))
		}
	}

	if a.TenantID == "" {
		errs = append(errs, errors.New("auth.tenant_id: must not be empty (use \"common\" for multi-tenant)"))
	}

	return errs
}

func validateScan(s *ScanConfig) []error {
	var errs []error

	if s.ParallelListings < minParallel || s.ParallelListings > maxParallel {
		errs = append(errs, fmt.Errorf("scan.parallel_listings: must be between %d and %d, got %d",
			minParallel, maxParallel, s.ParallelListings))
	}

	if s.RequestsPerSecond <= 0 || s.RequestsPerSecond > maxRequestsPerSec {
		errs = append(errs, fmt.Errorf("scan.requests_per_second: must be between 0 (exclusive) and %g, got %g",
			maxRequestsPerSec, s.RequestsPerSecond))
	}

	return errs
}

func validateTransfer(t *TransferConfig) []error {
	var errs []error

	if t.ParallelDownloads < minParallel || t.ParallelDownloads > maxParallel {
		errs = append(errs, fmt.Errorf("transfer.parallel_downloads: must be between %d and %d, got %d",
			minParallel, maxParallel, t.ParallelDownloads))
	}

	if t.OutputDir == "" {
		errs = append(errs, errors.New("transfer.output_dir: must not be empty"))
	}

	return errs
}

func validateBedrock(b *BedrockConfig) []error {
	var errs []error

	timeout, timeoutErrs := parseDurationMin("bedrock.poll_timeout", b.PollTimeout, 0)
	errs = append(errs, timeoutErrs...)

	interval, intervalErrs := parseDurationMin("bedrock.poll_interval", b.PollInterval, minPollInterval)
	errs = append(errs, intervalErrs...)

	if len(timeoutErrs) == 0 && len(intervalErrs) == 0 && timeout < interval {
		errs = append(errs, fmt.Errorf("bedrock.poll_timeout: must be >= poll_interval (%s), got %s",
			interval, timeout))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	_, connectErrs := parseDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)
	errs = append(errs, connectErrs...)

	// "0" means no overall request cap, which large downloads need.
	_, requestErrs := parseDurationMin("network.request_timeout", n.RequestTimeout, 0)
	errs = append(errs, requestErrs...)

	return errs
}

// parseDurationMin parses a duration string and checks it against a
// minimum. "0" parses as zero without a unit suffix.
func parseDurationMin(field, value string, minimum time.Duration) (time.Duration, []error) {
	if value == "0" {
		if minimum > 0 {
			return 0, []error{fmt.Errorf("%s: must be >= %s, got 0", field, minimum)}
		}

		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return 0, []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return d, nil
}

// SharePointReady reports whether the settings the SharePoint commands
// (test, scan, download) need are all present. Each missing setting is
// reported with the environment variable that can supply it.
func (c *Config) SharePointReady() error {
	var errs []error

	if c.SharePoint.SiteURL == "" {
		errs = append(errs, fmt.Errorf("%w: sharepoint.site_url (or %s)", ErrMissingSetting, EnvSiteURL))
	}

	if c.Auth.ClientID == "" {
		errs = append(errs, fmt.Errorf("%w: auth.client_id (or %s)", ErrMissingSetting, EnvClientID))
	}

	return errors.Join(errs...)
}

// BedrockReady reports whether the settings Bedrock ingestion needs are
// all present.
func (c *Config) BedrockReady() error {
	var errs []error

	if c.Bedrock.KnowledgeBaseID == "" {
		errs = append(errs, fmt.Errorf("%w: bedrock.knowledge_base_id (or %s)",
			ErrMissingSetting, EnvKnowledgeBaseID))
	}

	if c.Bedrock.DataSourceID == "" {
		errs = append(errs, fmt.Errorf("%w: bedrock.data_source_id (or %s)",
			ErrMissingSetting, EnvDataSourceID))
	}

	return errors.Join(errs...)
}

// PollTimeoutDuration returns the parsed bedrock.poll_timeout. Call only
// after Validate has passed.
func (c *Config) PollTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Bedrock.PollTimeout)

	return d
}

// PollIntervalDuration returns the parsed bedrock.poll_interval. Call
// only after Validate has passed.
func (c *Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Bedrock.PollInterval)

	return d
}
