package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/catalog"
	"github.com/faidrapts/sharepoint-connector/internal/graph"
	"github.com/faidrapts/sharepoint-connector/internal/kb"
	"github.com/faidrapts/sharepoint-connector/internal/transfer"
)

var (
	flagOutputDir    string
	flagParallel     int
	flagForce        bool
	flagYes          bool
	flagBedrock      bool
	flagMetadataFile string
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every document on the configured site",
		Long: `Scan the site, then download all documents into the output directory,
preserving the library and folder structure. Files that already exist
with a matching size are skipped. With --bedrock, each downloaded file
is also submitted to the configured Knowledge Base.`,
		RunE: runDownload,
	}

	f := cmd.Flags()
	f.StringVar(&flagOutputDir, "output-dir", "", "destination directory (overrides config)")
	f.IntVar(&flagParallel, "parallel", 0, "parallel downloads (overrides config)")
	f.BoolVar(&flagForce, "force", false, "re-download files that already exist")
	f.BoolVarP(&flagYes, "yes", "y", false, "skip the confirmation prompt")
	f.BoolVar(&flagBedrock, "bedrock", false, "ingest downloaded documents into the Knowledge Base")
	f.StringVar(&flagMetadataFile, "metadata-file", "", "metadata JSON path (default: <output-dir>/"+catalog.DefaultMetadataFileName+")")

	return cmd
}

func runDownload(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if err := resolvedCfg.SharePointReady(); err != nil {
		return err
	}

	if flagBedrock {
		if err := resolvedCfg.BedrockReady(); err != nil {
			return err
		}
	}

	store, err := loadCredentials(logger)
	if err != nil {
		return err
	}

	client := graph.NewClient(graph.DefaultBaseURL, newHTTPClient(resolvedCfg), store, logger)
	walker := catalog.NewWalker(client, &resolvedCfg.Scan, logger)

	siteURL := resolvedCfg.SharePoint.SiteURL
	statusf("Scanning %s ...\n", siteURL)

	cat, err := walker.Scan(ctx, siteURL)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	total := len(cat.Docs)
	if total == 0 {
		statusf("No documents found.\n")

		return nil
	}

	sum := catalog.Summarize(cat)
	destDir := resolvedCfg.Transfer.OutputDir

	statusf("Found %d documents (%s) in %d libraries.\n",
		sum.Total, formatSize(sum.TotalBytes), len(sum.Libraries))

	if !flagYes && stdinIsTerminal() {
		prompt := fmt.Sprintf("Download to %s? [y/N] ", destDir)
		if !confirm(os.Stdin, os.Stderr, prompt) {
			statusf("Aborted.\n")

			return nil
		}
	}

	// History is best-effort: a broken ledger file must not block downloads.
	ledger, err := transfer.OpenLedger(resolvedCfg.Transfer.LedgerFile, logger)
	if err != nil {
		logger.Warn("transfer ledger unavailable, continuing without history", "error", err)
	} else {
		defer ledger.Close()
	}

	var sink transfer.IngestSink

	if flagBedrock {
		ingestor, ingErr := kb.NewIngestor(ctx, &resolvedCfg.Bedrock, logger)
		if ingErr != nil {
			return ingErr
		}

		sink = ingestor
	}

	mgr := transfer.NewManager(client, ledger, &resolvedCfg.Transfer, logger)

	results, err := mgr.BulkTransfer(ctx, cat, transfer.Options{
		Force:    flagForce,
		Progress: downloadProgress(),
		Ingest:   sink,
		SiteURL:  siteURL,
		Label:    "download",
	})
	if err != nil {
		return err
	}

	if metaErr := saveRunMetadata(cat, destDir); metaErr != nil {
		logger.Warn("writing metadata file", "error", metaErr)
	}

	printDownloadSummary(os.Stdout, results)

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: %d of %d documents processed", completed(results), total)
	}

	if failed := countStatus(results, transfer.StatusFailed); failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, total)
	}

	return nil
}

// downloadProgress returns the per-document progress callback: a rewriting
// counter line on a terminal, nothing otherwise (the log carries per-file
// lines already).
func downloadProgress() func(done, total int) {
	if flagQuiet || !stderrIsTerminal() {
		return nil
	}

	return func(done, total int) {
		fmt.Fprintf(os.Stderr, "\rDownloading %d/%d", done, total)

		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// confirm prints prompt to w and reads one line from r. Only an explicit
// yes counts; EOF or anything else is a no.
func confirm(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprint(w, prompt)

	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// saveRunMetadata writes the catalog metadata JSON next to the downloads
// (or wherever --metadata-file points).
func saveRunMetadata(cat *catalog.Catalog, destDir string) error {
	path := flagMetadataFile
	if path == "" {
		path = filepath.Join(destDir, catalog.DefaultMetadataFileName)
	}

	if err := catalog.SaveMetadata(cat, path); err != nil {
		return err
	}

	statusf("Metadata written to %s\n", path)

	return nil
}

func countStatus(results map[string]transfer.Outcome, status transfer.Status) int {
	n := 0

	for _, o := range results {
		if o.Status == status {
			n++
		}
	}

	return n
}

// completed counts outcomes that represent finished work: everything
// except the documents a cancellation skipped before they started.
func completed(results map[string]transfer.Outcome) int {
	n := 0

	for _, o := range results {
		if o.Status != transfer.StatusSkipped || o.Kind != transfer.KindCanceled {
			n++
		}
	}

	return n
}

func printDownloadSummary(w io.Writer, results map[string]transfer.Outcome) {
	var succeeded, skipped, failed, indexed int

	var bytes int64

	for _, o := range results {
		switch o.Status {
		case transfer.StatusSucceeded:
			succeeded++
			bytes += o.Bytes
		case transfer.StatusSkipped:
			skipped++
		case transfer.StatusFailed:
			failed++
		}

		if o.IngestStatus == transfer.IngestSucceeded {
			indexed++
		}
	}

	fmt.Fprintf(w, "Downloaded %d (%s), skipped %d, failed %d\n",
		succeeded, formatSize(bytes), skipped, failed)

	if indexed > 0 {
		fmt.Fprintf(w, "Indexed %d documents into the Knowledge Base\n", indexed)
	}

	if failed == 0 {
		return
	}

	// Name the failures so nobody has to dig through logs for them.
	fmt.Fprintln(w, "\nFailed documents:")

	rows := make([][]string, 0, failed)

	for _, o := range results {
		if o.Status != transfer.StatusFailed {
			continue
		}

		rows = append(rows, []string{o.Name, o.Kind.String(), fmt.Sprintf("%d attempt(s)", o.Attempts)})
	}

	sortRows(rows)
	printTable(w, []string{"NAME", "ERROR", "ATTEMPTS"}, rows)
}
