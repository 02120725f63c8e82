package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/kb"
)

var flagWatchDir string

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Ingest local files into the Knowledge Base",
		Long: `Submit local files to the configured Bedrock Knowledge Base and wait
for indexing. Directory arguments are expanded to the files directly
inside them. With --watch, keep running and ingest files as they are
dropped into the watched directory.`,
		RunE: runIngest,
	}

	cmd.Flags().StringVar(&flagWatchDir, "watch", "", "watch this directory and ingest new files as they appear")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if err := resolvedCfg.BedrockReady(); err != nil {
		return err
	}

	ingestor, err := kb.NewIngestor(ctx, &resolvedCfg.Bedrock, logger)
	if err != nil {
		return err
	}

	if flagWatchDir != "" {
		statusf("Watching %s — press Ctrl-C to stop.\n", flagWatchDir)

		return ingestor.Watch(ctx, flagWatchDir, func(r kb.Result) {
			if r.Err != nil {
				statusf("failed:  %s: %v\n", r.DocumentID, r.Err)

				return
			}

			statusf("indexed: %s\n", r.DocumentID)
		})
	}

	if len(args) == 0 {
		return errors.New("nothing to ingest: pass file paths or --watch <dir>")
	}

	items, err := collectBatchItems(args)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		statusf("No files to ingest.\n")

		return nil
	}

	results := ingestor.BatchIngest(ctx, items, func(done, total int) {
		statusf("\rIngesting %d/%d", done, total)

		if done == total {
			statusf("\n")
		}
	})

	failed := 0

	for id, res := range results {
		if res.Err != nil {
			failed++

			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", id, res.Err)
		}
	}

	statusf("Indexed %d of %d documents.\n", len(results)-failed, len(results))

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed to index", failed, len(results))
	}

	return nil
}

// collectBatchItems expands the argument list into ingestible files:
// regular files pass through, directories contribute the regular files
// directly inside them (no recursion — that is what --watch plus a
// download run is for).
func collectBatchItems(args []string) ([]kb.BatchItem, error) {
	var items []kb.BatchItem

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}

		if !info.IsDir() {
			items = append(items, kb.BatchItem{Path: arg})

			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !entry.Type().IsRegular() {
				continue
			}

			name := entry.Name()
			if name == "" || name[0] == '.' {
				continue
			}

			items = append(items, kb.BatchItem{Path: filepath.Join(arg, name)})
		}
	}

	return items, nil
}
