package graph

import (
	"log/slog"
	"time"
)

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// DownloadURL is a pre-authenticated content URL. The embedded token grants
// access to the file body, so the type redacts itself under slog. Convert
// with string() only at the point of use.
type DownloadURL string

// LogValue implements slog.LogValuer so the URL never reaches log output.
func (DownloadURL) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// User represents the authenticated user's profile.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Site represents a SharePoint site resolved via the Graph API.
type Site struct {
	ID          string
	Name        string
	DisplayName string
	WebURL      string
}

// Drive represents a document library exposed as a Graph drive.
type Drive struct {
	ID        string // normalized: lowercase (Graph API casing is inconsistent)
	Name      string
	DriveType string // "documentLibrary" for SharePoint libraries
	WebURL    string
	OwnerName string
}

// Item represents a drive item (file or folder) inside a document library.
// Fields are normalized from the Graph API response — callers never see raw API data.
type Item struct {
	ID           string
	Name         string
	DriveID      string // normalized: lowercase
	ParentID     string
	Size         int64
	ETag         string
	IsFolder     bool
	IsPackage    bool // OneNote packages — have no downloadable content
	MimeType     string
	QuickXorHash string // base64-encoded, passthrough for change detection
	WebURL       string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	ChildCount   int    // ChildCountUnknown if not present
	DownloadURL  DownloadURL // pre-authenticated, ephemeral
}
