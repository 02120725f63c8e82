package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrNoDownloadURL is returned when a drive item has no pre-authenticated
// download URL. This can happen for folders, OneNote packages, or zero-byte
// files.
var ErrNoDownloadURL = errors.New("graph: item has no download URL")

// ResolveDownloadURL fetches the item's current pre-authenticated download
// URL. Download URLs are ephemeral — callers holding a cached URL use this
// to obtain a fresh one when the cached URL has expired.
func (c *Client) ResolveDownloadURL(ctx context.Context, driveID, itemID string) (string, error) {
	item, err := c.GetItem(ctx, driveID, itemID)
	if err != nil {
		return "", fmt.Errorf("graph: resolving download URL: %w", err)
	}

	if item.DownloadURL == "" {
		// Warn, not Error: this is expected for folders, OneNote packages,
		// and zero-byte files — not a terminal failure requiring investigation.
		c.logger.Warn("item has no download URL",
			slog.String("drive_id", driveID),
			slog.String("item_id", itemID),
			slog.Bool("is_folder", item.IsFolder),
			slog.Bool("is_package", item.IsPackage),
		)

		return "", ErrNoDownloadURL
	}

	return string(item.DownloadURL), nil
}

// Download resolves the item's pre-authenticated URL and streams its
// content to w. Callers that cache URLs across calls (and so need to
// re-resolve on expiry themselves) use ResolveDownloadURL and
// DownloadFromURL directly.
func (c *Client) Download(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error) {
	url, err := c.ResolveDownloadURL(ctx, driveID, itemID)
	if err != nil {
		return 0, err
	}

	return c.DownloadFromURL(ctx, url, w)
}

// DownloadFromURL streams content from a pre-authenticated URL directly to
// the writer and returns the number of bytes written.
// The URL is pre-authenticated by the Graph API, so no Authorization header
// is attached. The URL itself is never logged because it contains embedded
// auth tokens. Only the HTTP request/response cycle is retried; streaming
// (io.Copy) happens after doPreAuth returns, so partial-stream failures are
// handled by the caller.
func (c *Client) DownloadFromURL(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	resp, err := c.doPreAuth(ctx, "download", downloadURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("graph: streaming download content: %w", copyErr)
	}

	c.logger.Debug("download complete",
		slog.Int64("bytes_written", n),
	)

	return n, nil
}
