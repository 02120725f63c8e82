package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/transfer"
)

var flagRuns int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent download runs from the transfer ledger",
		Long: `Display the most recent download runs: when they ran, how many documents
succeeded, were skipped, or failed, and how much data moved. Failures
from the latest run are listed by name.`,
		RunE: runStatus,
	}

	cmd.Flags().IntVar(&flagRuns, "runs", 5, "number of recent runs to show")

	return cmd
}

// statusRun is the JSON schema for `status --json`.
type statusRun struct {
	RunID      string    `json:"run_id"`
	SiteURL    string    `json:"site_url"`
	DestDir    string    `json:"dest_dir"`
	Label      string    `json:"label"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Bytes      int64     `json:"bytes"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	ledger, err := transfer.OpenLedger(resolvedCfg.Transfer.LedgerFile, logger)
	if err != nil {
		return fmt.Errorf("opening transfer ledger: %w", err)
	}
	defer ledger.Close()

	runs, err := ledger.LastRuns(ctx, flagRuns)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No download runs recorded yet.")

		return nil
	}

	if flagJSON {
		return printStatusJSON(runs)
	}

	printRunsTable(os.Stdout, runs)

	// Failures from the most recent run are worth naming outright.
	latest := runs[0]
	if latest.Failed == 0 {
		return nil
	}

	failures, err := ledger.FailedOutcomes(ctx, latest.RunID)
	if err != nil {
		return err
	}

	printFailures(os.Stdout, failures)

	return nil
}

func printStatusJSON(runs []transfer.RunRecord) error {
	out := make([]statusRun, 0, len(runs))

	for _, r := range runs {
		out = append(out, statusRun{
			RunID:      r.RunID,
			SiteURL:    r.SiteURL,
			DestDir:    r.DestDir,
			Label:      r.Label,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Total:      r.Total,
			Succeeded:  r.Succeeded,
			Failed:     r.Failed,
			Skipped:    r.Skipped,
			Bytes:      r.Bytes,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printRunsTable(w io.Writer, runs []transfer.RunRecord) {
	rows := make([][]string, 0, len(runs))

	for _, r := range runs {
		duration := "running"
		if !r.FinishedAt.IsZero() {
			duration = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		}

		rows = append(rows, []string{
			formatTime(r.StartedAt),
			r.Label,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			formatSize(r.Bytes),
			duration,
		})
	}

	printTable(w,
		[]string{"STARTED", "LABEL", "TOTAL", "OK", "SKIPPED", "FAILED", "SIZE", "DURATION"},
		rows)
}

func printFailures(w io.Writer, failures []transfer.FailureRecord) {
	if len(failures) == 0 {
		return
	}

	fmt.Fprintf(w, "\nFailures in the latest run:\n")

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.Name, f.ErrorKind, fmt.Sprintf("%d attempt(s)", f.Attempts)})
	}

	printTable(w, []string{"NAME", "ERROR", "ATTEMPTS"}, rows)
}
