package transfer

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxNameLength caps sanitized filename length. SharePoint allows names far
// longer than what stays portable across local filesystems.
const maxNameLength = 200

// idSuffixLength is how much of a document ID goes into a disambiguated
// filename. Graph item IDs differ early, so a short prefix is enough.
const idSuffixLength = 8

// fallbackName replaces names that sanitize down to nothing.
const fallbackName = "unknown_file"

// invalidNameChars are replaced with underscores. The set covers Windows
// reserved characters, which is the strictest common denominator.
const invalidNameChars = `<>:"/\|?*`

// SanitizeName converts a document or folder display name into a safe
// local filename: NFC normalization, reserved and control characters
// replaced with underscores, surrounding dots and spaces stripped, length
// capped with the extension preserved.
func SanitizeName(name string) string {
	if name == "" {
		return fallbackName
	}

	name = norm.NFC.String(name)

	var b strings.Builder

	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(invalidNameChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	sanitized := strings.Trim(b.String(), ". ")
	if sanitized == "" {
		return fallbackName
	}

	return truncateName(sanitized, maxNameLength)
}

// truncateName shortens a name to max runes, keeping the extension.
func truncateName(name string, max int) string {
	runes := []rune(name)
	if len(runes) <= max {
		return name
	}

	ext := filepath.Ext(name)
	// An absurdly long "extension" is not one; drop it rather than let it
	// consume the whole budget.
	if len([]rune(ext)) > 20 {
		ext = ""
	}

	keep := max - len([]rune(ext))
	if keep < 1 {
		keep = 1
	}

	base := []rune(strings.TrimSuffix(name, ext))
	if len(base) > keep {
		base = base[:keep]
	}

	return strings.TrimRight(string(base), ". ") + ext
}

// withIDSuffix disambiguates a filename by inserting a short document-id
// fragment before the extension: "report.pdf" → "report-01a2b3c4.pdf".
// The fragment is sanitized so opaque IDs cannot reintroduce reserved
// characters.
func withIDSuffix(name, docID string) string {
	frag := docID
	if len(frag) > idSuffixLength {
		frag = frag[:idSuffixLength]
	}

	var b strings.Builder

	for _, r := range strings.ToLower(frag) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('x')
		}
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	return base + "-" + b.String() + ext
}
