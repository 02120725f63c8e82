package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagSiteURL    string
	flagClientID   string
	flagTenantID   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sharepoint-connector",
		Short: "SharePoint document scanner and downloader",
		Long: `Scan SharePoint document libraries, download their contents, and
optionally index them into an AWS Bedrock Knowledge Base.`,
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// Configuration resolves before every command. Readiness (which
		// settings a command actually needs) is checked per command, so
		// resolution itself only fails on malformed values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagSiteURL, "site-url", "", "SharePoint site URL (overrides config)")
	pf.StringVar(&flagClientID, "client-id", "", "Azure AD application (client) ID")
	pf.StringVar(&flagTenantID, "tenant-id", "", "Azure AD tenant ID")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain (defaults, file, environment, flags) and stores the result
// in resolvedCfg for use by subcommands. Flags are probed through the
// executing command so subcommand-local flags like --output-dir join the
// chain and get validated with everything else.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	flags := cmd.Flags()
	if flags.Changed("site-url") {
		cli.SiteURL = &flagSiteURL
	}

	if flags.Changed("client-id") {
		cli.ClientID = &flagClientID
	}

	if flags.Changed("tenant-id") {
		cli.TenantID = &flagTenantID
	}

	if flags.Changed("output-dir") {
		cli.OutputDir = &flagOutputDir
	}

	if flags.Changed("parallel") {
		cli.Parallel = &flagParallel
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Format "auto" means
// text on a terminal and JSON when stderr is redirected.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !stderrIsTerminal()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func stderrIsTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// newHTTPClient builds the HTTP client shared by all Graph calls. The
// connect timeout guards the dial and TLS handshake; the overall request
// timeout is usually zero so large document downloads can stream for as
// long as they need.
func newHTTPClient(cfg *config.Config) *http.Client {
	connect := 10 * time.Second
	request := time.Duration(0)

	if d, err := time.ParseDuration(cfg.Network.ConnectTimeout); err == nil && d > 0 {
		connect = d
	}

	if d, err := time.ParseDuration(cfg.Network.RequestTimeout); err == nil && d > 0 {
		request = d
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout: connect,
	}

	return &http.Client{Transport: transport, Timeout: request}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
