package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/faidrapts/sharepoint-connector/internal/config"
	"github.com/faidrapts/sharepoint-connector/internal/graph"
)

// Defaults when no scan config is provided.
const (
	defaultParallelListings = 4
	defaultRequestsPerSec   = 10.0
)

// fallbackMimeType is recorded when the service omits a file's MIME type.
const fallbackMimeType = "application/octet-stream"

// Walker produces a Catalog of every document reachable from a site.
// Folder listings across one tree level run concurrently through a bounded
// errgroup; a shared rate limiter caps the global listing request rate.
type Walker struct {
	client   SiteClient
	limiter  *rate.Limiter
	parallel int
	logger   *slog.Logger
}

// NewWalker creates a Walker from the resolved scan config.
// If cfg is nil, defaults are used (4 parallel listings, 10 requests/sec).
func NewWalker(client SiteClient, cfg *config.ScanConfig, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}

	parallel := defaultParallelListings
	rps := defaultRequestsPerSec

	if cfg != nil {
		if cfg.ParallelListings > 0 {
			parallel = cfg.ParallelListings
		}

		if cfg.RequestsPerSecond > 0 {
			rps = cfg.RequestsPerSecond
		}
	}

	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Walker{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		parallel: parallel,
		logger:   logger,
	}
}

// scanState accumulates results across the concurrent level walks.
// All fields are guarded by mu.
type scanState struct {
	mu          gosync.Mutex
	seen        map[string]bool
	docs        []DocumentRecord
	errors      []ScanError
	collections int
}

// Scan resolves the site, enumerates its document libraries, and walks each
// library's folder tree breadth-first. Listing failures below the root are
// recorded in Stats.Errors and the scan continues with sibling subtrees;
// only failing to resolve the site or enumerate its libraries is fatal.
func (w *Walker) Scan(ctx context.Context, siteURL string) (*Catalog, error) {
	start := time.Now()
	scanID := uuid.New().String()

	w.logger.Info("catalog: scan starting", "site_url", siteURL, "scan_id", scanID)

	site, err := w.client.SiteByURL(ctx, siteURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolving site %q: %w", siteURL, err)
	}

	// No library list means nothing to walk, so this is as fatal as the
	// site root itself.
	drives, err := w.client.SiteDrives(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing document libraries of %q: %w", siteURL, err)
	}

	st := &scanState{seen: make(map[string]bool)}

	level := make([]*CollectionRef, 0, len(drives))

	for i := range drives {
		root := &CollectionRef{
			ID:      rootCollectionID,
			DriveID: drives[i].ID,
			Library: drives[i].Name,
		}
		st.seen[root.seenKey()] = true
		level = append(level, root)
	}

	for len(level) > 0 {
		next, walkErr := w.walkLevel(ctx, level, st)
		if walkErr != nil {
			return nil, fmt.Errorf("catalog: scan aborted: %w", walkErr)
		}

		level = next
	}

	normalizeDocs(st.docs)

	cat := &Catalog{
		Docs: st.docs,
		Stats: Stats{
			ScanID:             scanID,
			SiteURL:            siteURL,
			SiteID:             site.ID,
			SiteName:           site.DisplayName,
			StartedAt:          start.UTC(),
			Duration:           time.Since(start),
			Libraries:          len(drives),
			CollectionsVisited: st.collections,
			DocumentsFound:     len(st.docs),
			Errors:             st.errors,
		},
	}

	w.logger.Info("catalog: scan complete",
		"scan_id", scanID,
		"libraries", cat.Stats.Libraries,
		"collections", cat.Stats.CollectionsVisited,
		"documents", cat.Stats.DocumentsFound,
		"errors", len(cat.Stats.Errors),
		"duration", cat.Stats.Duration,
	)

	return cat, nil
}

// walkLevel lists every collection of one tree level concurrently and
// returns the next level's collections. Listing failures are recorded in
// the scan state and do not stop siblings; only fatal errors (cancellation,
// lost authorization) abort the walk.
func (w *Walker) walkLevel(ctx context.Context, level []*CollectionRef, st *scanState) ([]*CollectionRef, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallel)

	var (
		mu   gosync.Mutex
		next []*CollectionRef
	)

	for _, col := range level {
		g.Go(func() error {
			items, err := w.listCollection(gctx, col)
			if err != nil {
				if isFatalScanError(err) {
					return err
				}

				w.logger.Warn("catalog: listing failed, skipping subtree",
					"collection", col.PathString(),
					"error", err,
				)

				st.mu.Lock()
				st.errors = append(st.errors, ScanError{Collection: col.PathString(), Err: err})
				st.mu.Unlock()

				return nil
			}

			children := w.collectChildren(col, items, st)

			mu.Lock()
			next = append(next, children...)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return next, nil
}

// listCollection waits for a rate limiter slot and lists one collection.
func (w *Walker) listCollection(ctx context.Context, col *CollectionRef) ([]graph.Item, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return w.client.ListChildren(ctx, col.DriveID, col.ID)
}

// collectChildren records the documents of a listed collection and returns
// its unvisited child collections. The seen-set is keyed by collection ID,
// not path, so back-references in the remote tree cannot recurse forever.
func (w *Walker) collectChildren(col *CollectionRef, items []graph.Item, st *scanState) []*CollectionRef {
	var children []*CollectionRef

	st.mu.Lock()
	defer st.mu.Unlock()

	st.collections++

	for i := range items {
		item := &items[i]

		if item.IsFolder {
			child := &CollectionRef{
				ID:      item.ID,
				DriveID: col.DriveID,
				Library: col.Library,
				Path:    append(append([]string{}, col.Path...), item.Name),
				Parent:  col,
			}

			if st.seen[child.seenKey()] {
				w.logger.Warn("catalog: collection already visited, skipping back-reference",
					"collection", child.PathString(),
					"id", item.ID,
				)

				continue
			}

			st.seen[child.seenKey()] = true
			children = append(children, child)

			continue
		}

		if item.IsPackage {
			// OneNote packages have no downloadable content.
			w.logger.Debug("catalog: skipping package item", "name", item.Name)
			continue
		}

		st.docs = append(st.docs, documentFromItem(col, item))
	}

	return children
}

// documentFromItem freezes one Graph drive item into a DocumentRecord.
func documentFromItem(col *CollectionRef, item *graph.Item) DocumentRecord {
	mimeType := item.MimeType
	if mimeType == "" {
		mimeType = fallbackMimeType
	}

	return DocumentRecord{
		ID:          item.ID,
		Name:        item.Name,
		SizeBytes:   item.Size,
		ContentHash: item.QuickXorHash,
		MimeType:    mimeType,
		Collection:  col,
		CreatedAt:   item.CreatedAt,
		ModifiedAt:  item.ModifiedAt,
		DownloadURL: string(item.DownloadURL),
		WebURL:      item.WebURL,
	}
}

// isFatalScanError reports whether an error must abort the whole scan.
// Cancellation and lost authorization poison every remaining listing;
// anything else only affects the failed subtree.
func isFatalScanError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, graph.ErrUnauthorized)
}

// normalizeDocs freezes the snapshot ordering: by collection path, then
// name, then ID. Two scans of an unchanged tree produce identical output
// files regardless of which worker listed which subtree first.
func normalizeDocs(docs []DocumentRecord) {
	slices.SortFunc(docs, func(a, b DocumentRecord) int {
		if c := strings.Compare(a.Collection.PathString(), b.Collection.PathString()); c != 0 {
			return c
		}

		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
