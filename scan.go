package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/catalog"
	"github.com/faidrapts/sharepoint-connector/internal/graph"
)

var flagScanOutput string

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover all documents on the configured site",
		Long: `Walk every document library on the site, including nested folders, and
print a summary of what was found. Nothing is downloaded.`,
		RunE: runScan,
	}

	cmd.Flags().StringVar(&flagScanOutput, "output", "", "write the document metadata JSON to this path")

	return cmd
}

// scanOutput is the JSON schema for `scan --json`.
type scanOutput struct {
	Site        string             `json:"site"`
	Documents   int                `json:"documents"`
	TotalBytes  int64              `json:"total_bytes"`
	Collections int                `json:"collections_visited"`
	Duration    string             `json:"duration"`
	Libraries   map[string]scanLib `json:"libraries"`
	Errors      []string           `json:"errors,omitempty"`
}

type scanLib struct {
	Documents int   `json:"documents"`
	Bytes     int64 `json:"bytes"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if err := resolvedCfg.SharePointReady(); err != nil {
		return err
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

	if flagScanOutput != "" {
		if err := catalog.SaveMetadata(cat, flagScanOutput); err != nil {
			return err
		}

		statusf("Metadata written to %s\n", flagScanOutput)
	}

	if flagJSON {
		return printScanJSON(cat)
	}

	printScanSummary(os.Stdout, cat)

	return nil
}

func printScanJSON(cat *catalog.Catalog) error {
	sum := catalog.Summarize(cat)

	out := scanOutput{
		Site:        cat.Stats.SiteURL,
		Documents:   sum.Total,
		TotalBytes:  sum.TotalBytes,
		Collections: cat.Stats.CollectionsVisited,
		Duration:    cat.Stats.Duration.String(),
		Libraries:   make(map[string]scanLib, len(sum.Libraries)),
	}

	for name, totals := range sum.Libraries {
		out.Libraries[name] = scanLib{Documents: totals.Count, Bytes: totals.Bytes}
	}

	for _, se := range cat.Stats.Errors {
		out.Errors = append(out.Errors, se.Error())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// printScanSummary renders the human-readable scan report: per-library
// totals, the most common file types, and any subtrees the walker could
// not list.
func printScanSummary(w io.Writer, cat *catalog.Catalog) {
	sum := catalog.Summarize(cat)

	fmt.Fprintf(w, "Site:      %s\n", cat.Stats.SiteName)
	fmt.Fprintf(w, "Documents: %d (%s)\n", sum.Total, formatSize(sum.TotalBytes))
	fmt.Fprintf(w, "Folders:   %d visited in %s\n",
		cat.Stats.CollectionsVisited, formatDuration(cat.Stats.Duration))

	if len(sum.Libraries) > 0 {
		fmt.Fprintf(w, "\nLibraries:\n")

		rows := make([][]string, 0, len(sum.Libraries))
		for _, name := range sum.LibraryNames() {
			totals := sum.Libraries[name]
			rows = append(rows, []string{
				name,
				strconv.Itoa(totals.Count),
				formatSize(totals.Bytes),
			})
		}

		printTable(w, []string{"NAME", "DOCS", "SIZE"}, rows)
	}

	if top := sum.TopExtensions(5); len(top) > 0 {
		fmt.Fprintf(w, "\nTop file types:")

		for _, ec := range top {
			fmt.Fprintf(w, " %s (%d)", ec.Ext, ec.Count)
		}

		fmt.Fprintln(w)
	}

	if len(cat.Stats.Errors) > 0 {
		fmt.Fprintf(w, "\n%d folder(s) could not be listed:\n", len(cat.Stats.Errors))

		for _, se := range cat.Stats.Errors {
			fmt.Fprintf(w, "  %s: %v\n", se.Collection, se.Err)
		}
	}
}
