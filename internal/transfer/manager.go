package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/faidrapts/sharepoint-connector/internal/auth"
	"github.com/faidrapts/sharepoint-connector/internal/catalog"
	"github.com/faidrapts/sharepoint-connector/internal/config"
	"github.com/faidrapts/sharepoint-connector/pkg/quickxorhash"
)

const (
	// defaultParallelDownloads bounds the worker pool when the config
	// leaves it unset.
	defaultParallelDownloads = 4

	// defaultOutputDir is where files land when no destination is given.
	defaultOutputDir = "downloads"

	// maxDownloadAttempts is the total number of tries per document,
	// including the first.
	maxDownloadAttempts = 3

	// partialSuffix marks in-progress downloads. A crash leaves the
	// .partial file behind, never a truncated final file.
	partialSuffix = ".partial"

	// backoffBase is the delay before the second attempt; later attempts
	// double it.
	backoffBase = 500 * time.Millisecond
)

// DocumentFetcher is the slice of the Graph client the transfer pool needs.
// Satisfied by *graph.Client.
type DocumentFetcher interface {
	ResolveDownloadURL(ctx context.Context, driveID, itemID string) (string, error)
	DownloadFromURL(ctx context.Context, downloadURL string, w io.Writer) (int64, error)
}

// IngestSink receives each file after a successful download. Satisfied by
// *kb.Ingestor.
type IngestSink interface {
	IngestDocument(ctx context.Context, localPath string, doc *catalog.DocumentRecord) error
}

// Options control a single BulkTransfer run. Zero values fall back to the
// manager's configuration.
type Options struct {
	// DestDir overrides the configured output directory.
	DestDir string

	// MaxParallel overrides the configured pool size.
	MaxParallel int

	// Force re-downloads documents even when a matching file exists.
	Force bool

	// Progress, when set, is called exactly once per document with the
	// completed count (1..total) and the total.
	Progress func(done, total int)

	// Ingest, when set, receives every successfully downloaded file.
	Ingest IngestSink

	// SiteURL and Label annotate the run in the ledger.
	SiteURL string
	Label   string
}

// Manager downloads catalog documents through a bounded worker pool:
// resolve URL, stream to a temp file, verify size, rename, retry
// transient failures, and record everything in the ledger.
type Manager struct {
	client   DocumentFetcher
	ledger   *Ledger // nil: run without history
	parallel int
	destDir  string
	logger   *slog.Logger

	retryDelay func(attempt int) time.Duration // injectable for fast tests
}

// NewManager builds a transfer manager. ledger may be nil; cfg may be nil
// for defaults.
func NewManager(client DocumentFetcher, ledger *Ledger, cfg *config.TransferConfig, logger *slog.Logger) *Manager {
	parallel := defaultParallelDownloads
	destDir := defaultOutputDir

	if cfg != nil {
		if cfg.ParallelDownloads > 0 {
			parallel = cfg.ParallelDownloads
		}

		if cfg.OutputDir != "" {
			destDir = cfg.OutputDir
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:   client,
		ledger:   ledger,
		parallel: parallel,
		destDir:  destDir,
		logger:   logger,
		retryDelay: func(attempt int) time.Duration {
			return backoffBase << (attempt - 1)
		},
	}
}

// BulkTransfer downloads every document in the catalog and returns one
// Outcome per document, keyed by document ID. Per-document failures are
// recorded in the map and never abort the batch; the returned error is
// non-nil only when the whole run cannot continue (authentication loss).
// On cancellation, documents not yet started are reported Skipped and the
// partial map is returned.
func (m *Manager) BulkTransfer(ctx context.Context, cat *catalog.Catalog, opts Options) (map[string]Outcome, error) {
	docs := cat.Docs
	total := len(docs)
	results := make(map[string]Outcome, total)

	if total == 0 {
		return results, nil
	}

	destDir := m.destDir
	if opts.DestDir != "" {
		destDir = opts.DestDir
	}

	parallel := m.parallel
	if opts.MaxParallel > 0 {
		parallel = opts.MaxParallel
	}

	runID := uuid.New().String()
	started := time.Now()
	paths := planPaths(docs)

	if m.ledger != nil {
		if err := m.ledger.BeginRun(ctx, runID, opts.SiteURL, destDir, opts.Label, total); err != nil {
			// History is best-effort; downloads matter more.
			m.logger.Warn("transfer: ledger write failed, continuing without history", "error", err)
		}
	}

	m.logger.Info("transfer: starting bulk download",
		"run_id", runID, "documents", total, "parallel", parallel, "dest", destDir)

	var (
		mu   sync.Mutex
		done int
	)

	// report is the single exit point for every document: it assigns the
	// outcome, advances the progress counter under the mutex (so callbacks
	// observe strictly increasing done values), and persists the row.
	report := func(o Outcome) {
		mu.Lock()
		done++
		results[o.DocumentID] = o

		if opts.Progress != nil {
			opts.Progress(done, total)
		}
		mu.Unlock()

		if m.ledger != nil {
			// The row must land even when the run context is being torn down.
			if err := m.ledger.RecordOutcome(context.WithoutCancel(ctx), runID, o); err != nil {
				m.logger.Warn("transfer: ledger outcome write failed",
					"doc", o.Name, "error", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i := range docs {
		if gctx.Err() != nil {
			// Stop dispatching; the sweep below reports the rest as skipped.
			break
		}

		doc := &docs[i]

		g.Go(func() error {
			o := m.transferOne(gctx, doc, filepath.Join(destDir, filepath.FromSlash(paths[doc.ID])), opts)
			report(o)

			// A dead credential poisons every remaining download; abort
			// the batch and let the caller surface it.
			if o.Status == StatusFailed && errors.Is(o.Err, auth.ErrAuthentication) {
				return fmt.Errorf("transfer: authentication lost: %w", o.Err)
			}

			return nil
		})
	}

	fatal := g.Wait()

	// Documents never dispatched (or whose worker was displaced by group
	// cancellation before starting) still owe the caller an outcome.
	for i := range docs {
		doc := &docs[i]

		mu.Lock()
		_, seen := results[doc.ID]
		mu.Unlock()

		if !seen {
			report(Outcome{
				DocumentID: doc.ID,
				Name:       doc.Name,
				Status:     StatusSkipped,
				Kind:       KindCanceled,
			})
		}
	}

	var succeeded, failed, skipped int

	var bytes int64

	for _, o := range results {
		switch o.Status {
		case StatusSucceeded:
			succeeded++
			bytes += o.Bytes
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}

	if m.ledger != nil {
		if err := m.ledger.FinishRun(context.WithoutCancel(ctx), runID,
			succeeded, failed, skipped, bytes); err != nil {
			m.logger.Warn("transfer: ledger finish write failed", "error", err)
		}
	}

	m.logger.Info("transfer: bulk download finished",
		"run_id", runID, "succeeded", succeeded, "failed", failed,
		"skipped", skipped, "bytes", bytes,
		"duration", time.Since(started).Round(time.Millisecond))

	return results, fatal
}

// transferOne carries a single document from URL resolution to its final
// outcome. It never returns an error; every failure mode is folded into
// the Outcome.
func (m *Manager) transferOne(ctx context.Context, doc *catalog.DocumentRecord, target string, opts Options) Outcome {
	o := Outcome{DocumentID: doc.ID, Name: doc.Name}

	if ctx.Err() != nil {
		o.Status = StatusSkipped
		o.Kind = KindCanceled

		return o
	}

	target, skip, err := m.resolveTarget(ctx, doc, target, opts.Force)
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		o.Kind = classifyError(err)

		return o
	}

	if skip {
		m.logger.Debug("transfer: file up to date", "doc", doc.Name, "path", target)

		o.Status = StatusSkipped
		o.LocalPath = target
		o.Bytes = doc.SizeBytes

		return o
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		o.Status = StatusFailed
		o.Err = err
		o.Kind = classifyError(err)

		return o
	}

	written, attempts, err := m.fetchWithRetry(ctx, doc, target)
	o.Attempts = attempts

	if err != nil {
		kind := classifyError(err)
		if kind == KindCanceled {
			// Cancellation is not a document failure.
			o.Status = StatusSkipped
			o.Kind = KindCanceled

			return o
		}

		m.logger.Warn("transfer: download failed",
			"doc", doc.Name, "kind", kind.String(), "attempts", attempts, "error", err)

		o.Status = StatusFailed
		o.Err = err
		o.Kind = kind

		return o
	}

	m.logger.Debug("transfer: download complete",
		"doc", doc.Name, "path", target, "bytes", written, "attempts", attempts)

	o.Status = StatusSucceeded
	o.LocalPath = target
	o.Bytes = written

	if opts.Ingest != nil {
		if err := opts.Ingest.IngestDocument(ctx, target, doc); err != nil {
			m.logger.Warn("transfer: ingestion failed", "doc", doc.Name, "error", err)

			o.IngestStatus = IngestFailed
			o.IngestErr = err
		} else {
			o.IngestStatus = IngestSucceeded
		}
	}

	return o
}

// resolveTarget decides where a document lands and whether it needs to be
// downloaded at all. An existing file with matching size is an idempotent
// skip (unless Force). A size mismatch means either our own earlier
// download of a changed document (ledger says we wrote it: replace in
// place) or a foreign file we must not touch (divert to an id-suffixed
// name).
func (m *Manager) resolveTarget(ctx context.Context, doc *catalog.DocumentRecord, target string, force bool) (string, bool, error) {
	fi, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return target, false, nil
	}

	if err != nil {
		return target, false, err
	}

	if fi.Size() == doc.SizeBytes {
		if !force {
			return target, true, nil
		}
		// Force re-fetches a file the run would otherwise skip; a size
		// match is the same ownership evidence the skip relies on.
		return target, false, nil
	}

	owns := false

	if m.ledger != nil {
		owns, err = m.ledger.OwnsPath(ctx, target, doc.ID)
		if err != nil {
			m.logger.Warn("transfer: ledger ownership check failed", "path", target, "error", err)

			owns = false
		}
	}

	if owns {
		return target, false, nil
	}

	// Without ledger evidence the file belongs to someone else. Never
	// overwrite it; divert this download to an id-suffixed name.
	alt := filepath.Join(filepath.Dir(target), withIDSuffix(filepath.Base(target), doc.ID))

	afi, err := os.Stat(alt)
	if errors.Is(err, fs.ErrNotExist) {
		return alt, false, nil
	}

	if err != nil {
		return alt, false, err
	}

	// The alternate name embeds the document id, so an existing file there
	// is ours from a previous run.
	if !force && afi.Size() == doc.SizeBytes {
		return alt, true, nil
	}

	return alt, false, nil
}

// fetchWithRetry downloads the document, re-resolving the URL and backing
// off between attempts. The catalog's cached pre-authenticated URL gets one
// free retry on any failure: those URLs expire and then fail with statuses
// that look permanent but are cured by re-resolving.
func (m *Manager) fetchWithRetry(ctx context.Context, doc *catalog.DocumentRecord, target string) (int64, int, error) {
	var lastErr error

	url := doc.DownloadURL
	cached := url != ""

	for attempt := 1; attempt <= maxDownloadAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, attempt - 1, err
		}

		if url == "" {
			resolved, err := m.client.ResolveDownloadURL(ctx, doc.DriveID(), doc.ID)
			if err != nil {
				lastErr = err
				if !classifyError(err).retryable() {
					return 0, attempt, err
				}

				if err := m.backoff(ctx, attempt); err != nil {
					return 0, attempt, lastErr
				}

				continue
			}

			url = resolved
		}

		written, err := m.streamToFile(ctx, url, target, doc)
		if err == nil {
			return written, attempt, nil
		}

		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, auth.ErrAuthentication) {
			return 0, attempt, err
		}

		if cached {
			cached = false
			url = ""

			m.logger.Debug("transfer: cached URL failed, re-resolving", "doc", doc.Name, "error", err)

			continue
		}

		if !classifyError(err).retryable() {
			return 0, attempt, err
		}

		url = "" // pre-authenticated URLs are single-shot; get a fresh one

		if attempt < maxDownloadAttempts {
			if err := m.backoff(ctx, attempt); err != nil {
				return 0, attempt, lastErr
			}
		}
	}

	return 0, maxDownloadAttempts, lastErr
}

// backoff sleeps the exponential delay for the given attempt, or returns
// early when the context dies.
func (m *Manager) backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.retryDelay(attempt)):
		return nil
	}
}

// streamToFile downloads into target+".partial" and renames on success, so
// the final path only ever holds complete files. The temp file is removed
// on every failure path. When the catalog carries a QuickXorHash the
// stream is hashed on the way down and checked before the rename.
func (m *Manager) streamToFile(ctx context.Context, url, target string, doc *catalog.DocumentRecord) (int64, error) {
	partial := target + partialSuffix

	f, err := os.Create(partial)
	if err != nil {
		return 0, err
	}

	var w io.Writer = f

	var hasher hash.Hash
	if doc.ContentHash != "" {
		hasher = quickxorhash.New()
		w = io.MultiWriter(f, hasher)
	}

	written, err := m.client.DownloadFromURL(ctx, url, w)
	if err != nil {
		f.Close()
		os.Remove(partial)

		return 0, err
	}

	if err := f.Close(); err != nil {
		os.Remove(partial)

		return 0, err
	}

	if doc.SizeBytes > 0 && written != doc.SizeBytes {
		os.Remove(partial)

		return written, fmt.Errorf("%w: got %d bytes, want %d", errShortDownload, written, doc.SizeBytes)
	}

	if hasher != nil {
		if got := base64.StdEncoding.EncodeToString(hasher.Sum(nil)); got != doc.ContentHash {
			os.Remove(partial)

			return written, fmt.Errorf("%w: got %s, want %s", errHashMismatch, got, doc.ContentHash)
		}
	}

	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)

		return 0, err
	}

	return written, nil
}

// planPaths maps each document ID to its destination path relative to the
// run's output directory (slash-separated). Every path segment is
// sanitized; catalog-internal collisions (distinct documents whose
// sanitized paths coincide, compared case-insensitively for the benefit of
// case-folding filesystems) are all diverted to id-suffixed names.
func planPaths(docs []catalog.DocumentRecord) map[string]string {
	rel := make(map[string]string, len(docs))
	byTarget := make(map[string][]string, len(docs))

	for i := range docs {
		doc := &docs[i]

		var segs []string

		if doc.Collection != nil {
			for _, s := range doc.Collection.Path {
				segs = append(segs, SanitizeName(s))
			}
		}

		segs = append(segs, SanitizeName(doc.Name))

		p := strings.Join(segs, "/")
		rel[doc.ID] = p
		key := strings.ToLower(p)
		byTarget[key] = append(byTarget[key], doc.ID)
	}

	for _, ids := range byTarget {
		if len(ids) < 2 {
			continue
		}

		for _, id := range ids {
			p := rel[id]
			slash := strings.LastIndex(p, "/")
			dir, base := "", p

			if slash >= 0 {
				dir, base = p[:slash+1], p[slash+1:]
			}

			rel[id] = dir + withIDSuffix(base, id)
		}
	}

	return rel
}
