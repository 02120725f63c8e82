package catalog

import (
	"path/filepath"
	"sort"
	"strings"
)

// LibraryTotals aggregates one document library's share of a catalog.
type LibraryTotals struct {
	Count int
	Bytes int64
}

// ExtensionCount is one file extension with its document count.
type ExtensionCount struct {
	Ext   string
	Count int
}

// Summary holds catalog totals for display. Values are numeric; rendering
// (size units, tables) is the caller's concern.
type Summary struct {
	Total      int
	TotalBytes int64
	Libraries  map[string]LibraryTotals
	Extensions map[string]int
}

// Summarize aggregates a catalog by library and file extension.
func Summarize(cat *Catalog) Summary {
	s := Summary{
		Libraries:  make(map[string]LibraryTotals),
		Extensions: make(map[string]int),
	}

	for i := range cat.Docs {
		doc := &cat.Docs[i]

		s.Total++
		s.TotalBytes += doc.SizeBytes

		lib := doc.Library()
		if lib == "" {
			lib = "Unknown"
		}

		totals := s.Libraries[lib]
		totals.Count++
		totals.Bytes += doc.SizeBytes
		s.Libraries[lib] = totals

		if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(doc.Name), ".")); ext != "" {
			s.Extensions[ext]++
		}
	}

	return s
}

// LibraryNames returns the library names in sorted order for stable display.
func (s *Summary) LibraryNames() []string {
	names := make([]string, 0, len(s.Libraries))
	for name := range s.Libraries {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// TopExtensions returns up to n extensions ordered by descending count,
// ties broken alphabetically.
func (s *Summary) TopExtensions(n int) []ExtensionCount {
	counts := make([]ExtensionCount, 0, len(s.Extensions))
	for ext, count := range s.Extensions {
		counts = append(counts, ExtensionCount{Ext: ext, Count: count})
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}

		return counts[i].Ext < counts[j].Ext
	})

	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}

	return counts
}
