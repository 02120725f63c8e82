// Package catalog discovers the documents of a SharePoint site. A scan
// walks every document library breadth-first and produces a frozen
// Catalog snapshot that the transfer and ingestion layers consume but
// never mutate.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/faidrapts/sharepoint-connector/internal/graph"
)

// SiteClient is the Graph API surface the walker needs.
// Satisfied by *graph.Client.
type SiteClient interface {
	SiteByURL(ctx context.Context, siteURL string) (*graph.Site, error)
	SiteDrives(ctx context.Context, siteID string) ([]graph.Drive, error)
	ListChildren(ctx context.Context, driveID, parentID string) ([]graph.Item, error)
}

// rootCollectionID is the Graph alias for a drive's root folder. The real
// folder item ID is never needed: listing calls accept the alias and the
// seen-set scopes it by drive.
const rootCollectionID = "root"

// CollectionRef identifies a folder node inside a document library.
// Collections are keyed by opaque ID rather than path — cycle detection
// must survive two paths reaching the same folder. Immutable once discovered.
type CollectionRef struct {
	ID      string // drive item ID, or "root" for the library root
	DriveID string
	Library string // document library display name
	// Path holds the folder segments below the library root; empty at the root.
	Path   []string
	Parent *CollectionRef // nil at the library root
}

// PathString renders the collection's location as "Library/folder/sub".
func (c *CollectionRef) PathString() string {
	if len(c.Path) == 0 {
		return c.Library
	}

	return c.Library + "/" + strings.Join(c.Path, "/")
}

// FolderPath renders only the folder segments below the library root.
// Empty at the root itself.
func (c *CollectionRef) FolderPath() string {
	return strings.Join(c.Path, "/")
}

// seenKey scopes the collection ID by drive so the seen-set stays correct
// when two libraries happen to reuse an item ID ("root" always does).
func (c *CollectionRef) seenKey() string {
	return c.DriveID + "/" + c.ID
}

// DocumentRecord is one discovered file, frozen at scan time. IDs are
// unique within a catalog; names may collide across collections but never
// within one.
type DocumentRecord struct {
	ID          string
	Name        string
	SizeBytes   int64
	ContentHash string // QuickXorHash when the service provides one
	MimeType    string
	Collection  *CollectionRef
	CreatedAt   time.Time
	ModifiedAt  time.Time
	// DownloadURL is pre-authenticated and ephemeral. Consumers must be
	// prepared to re-resolve it when the URL has gone stale. Never log it.
	DownloadURL string
	WebURL      string
}

// DriveID returns the drive the document lives in.
func (d *DocumentRecord) DriveID() string {
	if d.Collection == nil {
		return ""
	}

	return d.Collection.DriveID
}

// Library returns the document library display name, or "" when unknown.
func (d *DocumentRecord) Library() string {
	if d.Collection == nil {
		return ""
	}

	return d.Collection.Library
}

// ScanError records one collection subtree that could not be listed.
// The scan continued past it; the error is kept for reporting.
type ScanError struct {
	Collection string // "Library/folder" location of the failed subtree
	Err        error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("catalog: listing %s: %v", e.Collection, e.Err)
}

func (e ScanError) Unwrap() error {
	return e.Err
}

// Stats describes what one scan visited and what it could not reach.
type Stats struct {
	ScanID             string
	SiteURL            string
	SiteID             string
	SiteName           string
	StartedAt          time.Time
	Duration           time.Duration
	Libraries          int
	CollectionsVisited int
	DocumentsFound     int
	Errors             []ScanError
}

// Catalog is the frozen product of one scan: documents in normalized order
// (collection path, then name) plus discovery statistics.
type Catalog struct {
	Docs  []DocumentRecord
	Stats Stats
}
