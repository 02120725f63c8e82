package kb

import (
	"path/filepath"
	"strings"
)

// fallbackMimeType covers extensions the table does not know.
const fallbackMimeType = "application/octet-stream"

// mimeTypes maps the document extensions SharePoint libraries commonly
// hold to the MIME types the knowledge base ingestion API expects.
var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".rtf":  "application/rtf",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ppt":  "application/vnd.ms-powerpoint",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// mimeTypeFor returns the MIME type for a file based on its extension.
func mimeTypeFor(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}

	return fallbackMimeType
}
