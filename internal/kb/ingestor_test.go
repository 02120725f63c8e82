package kb

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/faidrapts/sharepoint-connector/internal/catalog"
	"github.com/faidrapts/sharepoint-connector/internal/config"
)

// --- Mock agent ---

type fakeAgent struct {
	mu sync.Mutex

	ingestCalls int
	getCalls    int

	submitStatus types.DocumentStatus   // status in the submit response; default STARTING
	pollStatuses []types.DocumentStatus // consumed one per poll; last one repeats
	statusReason string

	ingestErr error
	getErr    error

	lastIngest *bedrockagent.IngestKnowledgeBaseDocumentsInput
}

func (f *fakeAgent) IngestKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.IngestKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.IngestKnowledgeBaseDocumentsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ingestCalls++
	f.lastIngest = in

	if f.ingestErr != nil {
		return nil, f.ingestErr
	}

	status := f.submitStatus
	if status == "" {
		status = types.DocumentStatusStarting
	}

	var id *types.CustomDocumentIdentifier
	if len(in.Documents) > 0 && in.Documents[0].Content != nil && in.Documents[0].Content.Custom != nil {
		id = in.Documents[0].Content.Custom.CustomDocumentIdentifier
	}

	return &bedrockagent.IngestKnowledgeBaseDocumentsOutput{
		DocumentDetails: []types.KnowledgeBaseDocumentDetail{{
			Identifier: &types.DocumentIdentifier{
				DataSourceType: types.ContentDataSourceTypeCustom,
				Custom:         id,
			},
			Status:       status,
			StatusReason: aws.String(f.statusReason),
		}},
	}, nil
}

func (f *fakeAgent) GetKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.GetKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetKnowledgeBaseDocumentsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++

	if f.getErr != nil {
		return nil, f.getErr
	}

	status := types.DocumentStatusPending
	if len(f.pollStatuses) > 0 {
		status = f.pollStatuses[0]
		if len(f.pollStatuses) > 1 {
			f.pollStatuses = f.pollStatuses[1:]
		}
	}

	ident := in.DocumentIdentifiers[0]

	return &bedrockagent.GetKnowledgeBaseDocumentsOutput{
		DocumentDetails: []types.KnowledgeBaseDocumentDetail{{
			Identifier:   &ident,
			Status:       status,
			StatusReason: aws.String(f.statusReason),
		}},
	}, nil
}

func (f *fakeAgent) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.getCalls
}

// --- Test builders ---

func newTestIngestor(agent agentAPI) *Ingestor {
	ing := newIngestor(agent, &config.BedrockConfig{
		KnowledgeBaseID: "kb-123",
		DataSourceID:    "ds-456",
		PollTimeout:     "2s",
		PollInterval:    "10ms",
	}, slog.Default())
	ing.limiter = rate.NewLimiter(rate.Inf, 1)

	return ing
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// attribute pulls a metadata attribute value out of a captured submission.
func attribute(t *testing.T, in *bedrockagent.IngestKnowledgeBaseDocumentsInput, key string) string {
	t.Helper()

	require.NotNil(t, in)
	require.Len(t, in.Documents, 1)
	require.NotNil(t, in.Documents[0].Metadata)

	for _, attr := range in.Documents[0].Metadata.InlineAttributes {
		if aws.ToString(attr.Key) == key {
			require.NotNil(t, attr.Value)

			return aws.ToString(attr.Value.StringValue)
		}
	}

	t.Fatalf("attribute %q not found", key)

	return ""
}

// --- Tests ---

func TestIngest_SubmitsInlineDocument(t *testing.T) {
	agent := &fakeAgent{pollStatuses: []types.DocumentStatus{
		types.DocumentStatusInProgress,
		types.DocumentStatusIndexed,
	}}
	ing := newTestIngestor(agent)

	path := writeDoc(t, "report.pdf", "hello kb")

	res := ing.Ingest(context.Background(), path, "doc-1", "Quarterly Report")
	require.NoError(t, res.Err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, 2, agent.polls())

	in := agent.lastIngest
	require.NotNil(t, in)
	assert.Equal(t, "kb-123", aws.ToString(in.KnowledgeBaseId))
	assert.Equal(t, "ds-456", aws.ToString(in.DataSourceId))
	require.Len(t, in.Documents, 1)

	content := in.Documents[0].Content
	require.NotNil(t, content)
	assert.Equal(t, types.ContentDataSourceTypeCustom, content.DataSourceType)
	require.NotNil(t, content.Custom)
	assert.Equal(t, types.CustomSourceTypeInLine, content.Custom.SourceType)
	assert.Equal(t, "doc-1", aws.ToString(content.Custom.CustomDocumentIdentifier.Id))

	inline := content.Custom.InlineContent
	require.NotNil(t, inline)
	assert.Equal(t, types.InlineContentTypeByte, inline.Type)
	require.NotNil(t, inline.ByteContent)
	assert.Equal(t, []byte("hello kb"), inline.ByteContent.Data)
	assert.Equal(t, "application/pdf", aws.ToString(inline.ByteContent.MimeType))

	assert.Equal(t, types.MetadataSourceTypeInLineAttribute, in.Documents[0].Metadata.Type)
	assert.Equal(t, "Quarterly Report", attribute(t, in, "title"))
	assert.Equal(t, "SharePoint", attribute(t, in, "source"))
}

func TestIngest_DefaultsFromFilename(t *testing.T) {
	agent := &fakeAgent{submitStatus: types.DocumentStatusIndexed}
	ing := newTestIngestor(agent)

	path := writeDoc(t, "notes.txt", "plain text")

	res := ing.Ingest(context.Background(), path, "", "")
	require.NoError(t, res.Err)
	assert.Equal(t, "notes", res.DocumentID)
	assert.Equal(t, "notes", attribute(t, agent.lastIngest, "title"))

	inline := agent.lastIngest.Documents[0].Content.Custom.InlineContent
	assert.Equal(t, "text/plain", aws.ToString(inline.ByteContent.MimeType))
}

func TestIngest_IndexedAtSubmitSkipsPolling(t *testing.T) {
	agent := &fakeAgent{submitStatus: types.DocumentStatusIndexed}
	ing := newTestIngestor(agent)

	res := ing.Ingest(context.Background(), writeDoc(t, "a.pdf", "x"), "doc-1", "")
	require.NoError(t, res.Err)
	assert.Equal(t, 0, agent.polls())
}

func TestIngest_FailedStatusSurfacesReason(t *testing.T) {
	agent := &fakeAgent{
		pollStatuses: []types.DocumentStatus{types.DocumentStatusFailed},
		statusReason: "unsupported file type",
	}
	ing := newTestIngestor(agent)

	res := ing.Ingest(context.Background(), writeDoc(t, "a.bin", "x"), "doc-1", "")
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrIngestFailed)
	assert.Contains(t, res.Err.Error(), "doc-1")
	assert.Contains(t, res.Err.Error(), "unsupported file type")
}

func TestIngest_PollTimeout(t *testing.T) {
	agent := &fakeAgent{} // every poll answers PENDING
	ing := newIngestor(agent, &config.BedrockConfig{
		KnowledgeBaseID: "kb-123",
		DataSourceID:    "ds-456",
		PollTimeout:     "80ms",
		PollInterval:    "10ms",
	}, slog.Default())

	res := ing.Ingest(context.Background(), writeDoc(t, "slow.pdf", "x"), "doc-1", "")
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrPollTimeout)
	assert.Greater(t, agent.polls(), 1)
}

func TestIngest_NotFoundKeepsPolling(t *testing.T) {
	// Freshly submitted documents can be invisible to the status API for a
	// moment; that must not count as terminal.
	agent := &fakeAgent{pollStatuses: []types.DocumentStatus{
		types.DocumentStatusNotFound,
		types.DocumentStatusNotFound,
		types.DocumentStatusIndexed,
	}}
	ing := newTestIngestor(agent)

	res := ing.Ingest(context.Background(), writeDoc(t, "late.pdf", "x"), "doc-1", "")
	require.NoError(t, res.Err)
	assert.Equal(t, 3, agent.polls())
}

func TestIngest_MissingFile(t *testing.T) {
	agent := &fakeAgent{}
	ing := newTestIngestor(agent)

	res := ing.Ingest(context.Background(), filepath.Join(t.TempDir(), "ghost.pdf"), "doc-1", "")
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, fs.ErrNotExist)
	assert.Equal(t, 0, agent.ingestCalls)
}

func TestIngest_SubmitErrorWrapped(t *testing.T) {
	agent := &fakeAgent{ingestErr: errors.New("ThrottlingException")}
	ing := newTestIngestor(agent)

	res := ing.Ingest(context.Background(), writeDoc(t, "a.pdf", "x"), "doc-1", "")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "submitting")
	assert.Contains(t, res.Err.Error(), "ThrottlingException")
}

func TestIngestDocument_UsesCatalogIdentity(t *testing.T) {
	agent := &fakeAgent{submitStatus: types.DocumentStatusIndexed}
	ing := newTestIngestor(agent)

	doc := &catalog.DocumentRecord{ID: "sp-item-9", Name: "Plan.docx"}
	path := writeDoc(t, "Plan.docx", "contents")

	require.NoError(t, ing.IngestDocument(context.Background(), path, doc))

	custom := agent.lastIngest.Documents[0].Content.Custom
	assert.Equal(t, "sp-item-9", aws.ToString(custom.CustomDocumentIdentifier.Id))
	assert.Equal(t, "Plan.docx", attribute(t, agent.lastIngest, "title"))
}

func TestBatchIngest(t *testing.T) {
	agent := &fakeAgent{submitStatus: types.DocumentStatusIndexed}
	ing := newTestIngestor(agent)

	items := []BatchItem{
		{Path: writeDoc(t, "a.pdf", "aa"), ID: "doc-a"},
		{Path: filepath.Join(t.TempDir(), "missing.pdf"), ID: "doc-b"},
		{Path: writeDoc(t, "c.txt", "cc")}, // ID defaults to "c"
	}

	var progress []int

	results := ing.BatchIngest(context.Background(), items, func(done, total int) {
		progress = append(progress, done)
		assert.Equal(t, 3, total)
	})

	require.Len(t, results, 3)
	assert.NoError(t, results["doc-a"].Err)
	assert.Error(t, results["doc-b"].Err)
	assert.NoError(t, results["c"].Err)
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestBatchIngest_Canceled(t *testing.T) {
	agent := &fakeAgent{submitStatus: types.DocumentStatusIndexed}
	ing := newTestIngestor(agent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []BatchItem{
		{Path: writeDoc(t, "a.pdf", "aa"), ID: "doc-a"},
		{Path: writeDoc(t, "b.pdf", "bb"), ID: "doc-b"},
	}

	calls := 0

	results := ing.BatchIngest(ctx, items, func(done, total int) { calls++ })

	require.Len(t, results, 2)
	assert.Error(t, results["doc-a"].Err)
	assert.Error(t, results["doc-b"].Err)
	assert.Equal(t, 2, calls)
}

func TestMimeTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"report.pdf", "application/pdf"},
		{"REPORT.PDF", "application/pdf"},
		{"memo.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"old.doc", "application/msword"},
		{"notes.txt", "text/plain"},
		{"readme.md", "text/markdown"},
		{"deck.pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
		{"sheet.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"archive.zip", "application/octet-stream"},
		{"LICENSE", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, mimeTypeFor(tt.path))
		})
	}
}
