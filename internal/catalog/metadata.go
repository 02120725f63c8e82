package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultMetadataFileName is where `scan` writes its snapshot when no
// output path is given, and where `download --metadata-file` looks first.
const DefaultMetadataFileName = "sharepoint_documents.json"

// ErrInvalidMetadata is returned when a metadata file is neither a snapshot
// object nor a bare document array.
var ErrInvalidMetadata = errors.New("catalog: invalid metadata file format")

// metadataFile is the on-disk snapshot envelope.
type metadataFile struct {
	Timestamp      string             `json:"timestamp"`
	ScanID         string             `json:"scan_id,omitempty"`
	SiteURL        string             `json:"site_url,omitempty"`
	TotalDocuments int                `json:"total_documents"`
	Documents      []metadataDocument `json:"documents"`
}

// metadataDocument is the flat per-document JSON shape. Field names match
// the snapshot files earlier releases wrote, so old files stay loadable and
// new files stay readable by anything consuming the old layout.
type metadataDocument struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	DriveID     string `json:"drive_id"`
	Library     string `json:"library"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	ContentHash string `json:"content_hash,omitempty"`
	Created     string `json:"created,omitempty"`
	Modified    string `json:"modified,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

// SaveMetadata writes a catalog snapshot as indented JSON.
func SaveMetadata(cat *Catalog, path string) error {
	mf := metadataFile{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		ScanID:         cat.Stats.ScanID,
		SiteURL:        cat.Stats.SiteURL,
		TotalDocuments: len(cat.Docs),
		Documents:      make([]metadataDocument, 0, len(cat.Docs)),
	}

	for i := range cat.Docs {
		mf.Documents = append(mf.Documents, toMetadataDocument(&cat.Docs[i]))
	}

	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encoding metadata: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("catalog: writing metadata to %q: %w", path, err)
	}

	return nil
}

// LoadMetadata reads a catalog snapshot back. Both the snapshot envelope
// and a bare document array are accepted.
func LoadMetadata(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading metadata from %q: %w", path, err)
	}

	var mf metadataFile
	if err := json.Unmarshal(data, &mf); err != nil {
		// Older exports were sometimes a bare array of documents.
		var docs []metadataDocument
		if arrErr := json.Unmarshal(data, &docs); arrErr != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMetadata, path)
		}

		mf = metadataFile{Documents: docs}
	}

	cat := &Catalog{
		Docs: make([]DocumentRecord, 0, len(mf.Documents)),
		Stats: Stats{
			ScanID:         mf.ScanID,
			SiteURL:        mf.SiteURL,
			DocumentsFound: len(mf.Documents),
		},
	}

	// Rebuild one CollectionRef per distinct (drive, library, path) so
	// documents loaded together still share their collection node.
	collections := make(map[string]*CollectionRef)

	for i := range mf.Documents {
		cat.Docs = append(cat.Docs, fromMetadataDocument(&mf.Documents[i], collections))
	}

	return cat, nil
}

// toMetadataDocument flattens a DocumentRecord for JSON output.
func toMetadataDocument(d *DocumentRecord) metadataDocument {
	md := metadataDocument{
		Name:        d.Name,
		ID:          d.ID,
		DriveID:     d.DriveID(),
		Library:     d.Library(),
		Size:        d.SizeBytes,
		MimeType:    d.MimeType,
		ContentHash: d.ContentHash,
		DownloadURL: d.DownloadURL,
		WebURL:      d.WebURL,
	}

	if d.Collection != nil {
		md.Path = d.Collection.FolderPath()
	}

	if !d.CreatedAt.IsZero() {
		md.Created = d.CreatedAt.UTC().Format(time.RFC3339)
	}

	if !d.ModifiedAt.IsZero() {
		md.Modified = d.ModifiedAt.UTC().Format(time.RFC3339)
	}

	return md
}

// fromMetadataDocument rebuilds a DocumentRecord from its flat JSON shape.
func fromMetadataDocument(md *metadataDocument, collections map[string]*CollectionRef) DocumentRecord {
	key := md.DriveID + "\x00" + md.Library + "\x00" + md.Path

	col, ok := collections[key]
	if !ok {
		col = &CollectionRef{
			DriveID: md.DriveID,
			Library: md.Library,
		}
		if md.Path != "" {
			col.Path = strings.Split(md.Path, "/")
		}

		collections[key] = col
	}

	d := DocumentRecord{
		ID:          md.ID,
		Name:        md.Name,
		SizeBytes:   md.Size,
		ContentHash: md.ContentHash,
		MimeType:    md.MimeType,
		Collection:  col,
		DownloadURL: md.DownloadURL,
		WebURL:      md.WebURL,
	}

	if t, err := time.Parse(time.RFC3339, md.Created); err == nil {
		d.CreatedAt = t
	}

	if t, err := time.Parse(time.RFC3339, md.Modified); err == nil {
		d.ModifiedAt = t
	}

	return d
}
