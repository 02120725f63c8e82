// Package transfer moves the documents of a catalog snapshot onto the
// local filesystem through a bounded worker pool, with per-document retry,
// idempotent re-runs, and an optional indexing sink. Every run is recorded
// in a SQLite ledger that later runs consult before touching an existing
// file.
package transfer

import (
	"context"
	"errors"
	"io/fs"
	"net"

	"github.com/faidrapts/sharepoint-connector/internal/auth"
	"github.com/faidrapts/sharepoint-connector/internal/graph"
)

// Status is the terminal state of one document in a transfer run.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ErrorKind categorizes why a document failed. KindNone means no error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindPermissionDenied
	KindNotFound
	KindTransient
	KindTimeout
	KindLocalIO
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindLocalIO:
		return "local_io"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// IngestStatus reports what happened at the optional indexing sink after a
// successful download.
type IngestStatus int

const (
	IngestNotAttempted IngestStatus = iota
	IngestSucceeded
	IngestFailed
)

func (s IngestStatus) String() string {
	switch s {
	case IngestNotAttempted:
		return "not_attempted"
	case IngestSucceeded:
		return "succeeded"
	case IngestFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the per-document result of a transfer run. BulkTransfer
// returns exactly one Outcome per catalog document, keyed by document ID.
type Outcome struct {
	DocumentID   string
	Name         string
	Status       Status
	LocalPath    string
	Bytes        int64
	Attempts     int
	Err          error
	Kind         ErrorKind
	IngestStatus IngestStatus
	IngestErr    error
}

// errShortDownload marks a stream that ended before the expected byte
// count. The partial file is discarded and the download retried.
var errShortDownload = errors.New("transfer: downloaded size does not match document size")

// errHashMismatch marks a complete stream whose QuickXorHash differs from
// the catalog's. Treated like a short read: the bytes are corrupt, the
// document itself is fine.
var errHashMismatch = errors.New("transfer: downloaded content does not match document hash")

// classifyError maps a transfer failure to its ErrorKind. Order matters:
// cancellation and timeouts are checked before the HTTP sentinels because
// a canceled request may wrap both.
func classifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, graph.ErrForbidden), errors.Is(err, graph.ErrUnauthorized),
		errors.Is(err, auth.ErrAuthentication):
		return KindPermissionDenied
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrGone), errors.Is(err, graph.ErrNoDownloadURL):
		return KindNotFound
	case errors.Is(err, graph.ErrThrottled), errors.Is(err, graph.ErrServerError):
		return KindTransient
	case isTimeoutError(err):
		return KindTimeout
	case isLocalIOError(err):
		return KindLocalIO
	default:
		// Unrecognized failures are almost always transport-level.
		return KindTransient
	}
}

// retryable reports whether another attempt could change the result.
func (k ErrorKind) retryable() bool {
	return k == KindTransient || k == KindTimeout
}

func isTimeoutError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isLocalIOError(err error) bool {
	var pathErr *fs.PathError

	return errors.As(err, &pathErr) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, fs.ErrExist)
}
