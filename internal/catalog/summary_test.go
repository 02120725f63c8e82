package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	docs := &CollectionRef{ID: "root", DriveID: "d1", Library: "Documents"}
	assets := &CollectionRef{ID: "root", DriveID: "d2", Library: "Assets"}

	cat := &Catalog{
		Docs: []DocumentRecord{
			{ID: "1", Name: "a.pdf", SizeBytes: 100, Collection: docs},
			{ID: "2", Name: "b.PDF", SizeBytes: 50, Collection: docs},
			{ID: "3", Name: "c.docx", SizeBytes: 25, Collection: docs},
			{ID: "4", Name: "logo.png", SizeBytes: 10, Collection: assets},
			{ID: "5", Name: "LICENSE", SizeBytes: 1, Collection: assets},
		},
	}

	s := Summarize(cat)

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, int64(186), s.TotalBytes)

	require.Contains(t, s.Libraries, "Documents")
	assert.Equal(t, 3, s.Libraries["Documents"].Count)
	assert.Equal(t, int64(175), s.Libraries["Documents"].Bytes)
	assert.Equal(t, 2, s.Libraries["Assets"].Count)

	// Extensions are case-folded; files without one are not counted.
	assert.Equal(t, 2, s.Extensions["pdf"])
	assert.Equal(t, 1, s.Extensions["docx"])
	assert.Equal(t, 1, s.Extensions["png"])
	assert.NotContains(t, s.Extensions, "")
	assert.Len(t, s.Extensions, 3)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(&Catalog{})

	assert.Zero(t, s.Total)
	assert.Zero(t, s.TotalBytes)
	assert.Empty(t, s.Libraries)
	assert.Empty(t, s.Extensions)
}

func TestSummarize_UnknownLibrary(t *testing.T) {
	cat := &Catalog{
		Docs: []DocumentRecord{{ID: "1", Name: "orphan.txt", SizeBytes: 9}},
	}

	s := Summarize(cat)

	require.Contains(t, s.Libraries, "Unknown")
	assert.Equal(t, 1, s.Libraries["Unknown"].Count)
}

func TestSummary_LibraryNames(t *testing.T) {
	s := Summary{Libraries: map[string]LibraryTotals{
		"Zeta":  {},
		"Alpha": {},
		"Mid":   {},
	}}

	assert.Equal(t, []string{"Alpha", "Mid", "Zeta"}, s.LibraryNames())
}

func TestSummary_TopExtensions(t *testing.T) {
	s := Summary{Extensions: map[string]int{
		"pdf":  10,
		"docx": 10,
		"xlsx": 3,
		"png":  7,
	}}

	top := s.TopExtensions(3)

	require.Len(t, top, 3)
	assert.Equal(t, ExtensionCount{Ext: "docx", Count: 10}, top[0], "ties break alphabetically")
	assert.Equal(t, ExtensionCount{Ext: "pdf", Count: 10}, top[1])
	assert.Equal(t, ExtensionCount{Ext: "png", Count: 7}, top[2])

	all := s.TopExtensions(0)
	assert.Len(t, all, 4)
}
