// Package kb pushes downloaded documents into an AWS Bedrock Knowledge
// Base and waits for the service to index them. Documents are submitted as
// inline byte content under a custom identifier, then polled until they
// reach a terminal status or the poll window closes.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"golang.org/x/time/rate"

	"github.com/faidrapts/sharepoint-connector/internal/catalog"
	"github.com/faidrapts/sharepoint-connector/internal/config"
)

const (
	defaultRegion       = "us-east-1"
	defaultPollTimeout  = 5 * time.Minute
	defaultPollInterval = 5 * time.Second

	// defaultSubmitsPerSec paces batch submissions; the service throttles
	// aggressive callers and a knowledge base indexes serially anyway.
	defaultSubmitsPerSec = 2.0

	// sourceAttribute tags every document so knowledge base queries can
	// filter by origin.
	sourceAttribute = "SharePoint"
)

// ErrPollTimeout marks a document that was submitted but did not reach a
// terminal indexing status within the poll window.
var ErrPollTimeout = errors.New("kb: indexing poll timed out")

// ErrIngestFailed marks a document the service rejected or failed to index.
var ErrIngestFailed = errors.New("kb: ingestion failed")

// agentAPI is the slice of the Bedrock agent client the ingestor needs.
// Satisfied by *bedrockagent.Client.
type agentAPI interface {
	IngestKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.IngestKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.IngestKnowledgeBaseDocumentsOutput, error)
	GetKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.GetKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetKnowledgeBaseDocumentsOutput, error)
}

// Result is the terminal outcome of ingesting one document.
type Result struct {
	DocumentID string
	Err        error
}

// Succeeded reports whether the document reached an indexed status.
func (r Result) Succeeded() bool { return r.Err == nil }

// BatchItem names one file for BatchIngest. ID and Title default to the
// filename stem.
type BatchItem struct {
	Path  string
	ID    string
	Title string
}

// Ingestor submits documents to one knowledge base data source and polls
// them to completion.
type Ingestor struct {
	api          agentAPI
	kbID         string
	dataSourceID string
	pollTimeout  time.Duration
	pollInterval time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger

	// watch settle knobs, overridable in tests
	settleDelay    time.Duration
	settleInterval time.Duration
}

// NewIngestor builds an ingestor backed by the real Bedrock agent client.
// The AWS credential chain (env, shared config, IMDS) supplies the
// identity; cfg supplies the knowledge base coordinates.
func NewIngestor(ctx context.Context, cfg *config.BedrockConfig, logger *slog.Logger) (*Ingestor, error) {
	if cfg == nil || cfg.KnowledgeBaseID == "" || cfg.DataSourceID == "" {
		return nil, fmt.Errorf("%w: bedrock.knowledge_base_id and bedrock.data_source_id", config.ErrMissingSetting)
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kb: loading AWS configuration: %w", err)
	}

	ing := newIngestor(bedrockagent.NewFromConfig(awsCfg), cfg, logger)

	ing.logger.Info("kb: ingestor ready",
		"knowledge_base_id", cfg.KnowledgeBaseID,
		"data_source_id", cfg.DataSourceID,
		"region", region)

	return ing, nil
}

func newIngestor(api agentAPI, cfg *config.BedrockConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}

	ing := &Ingestor{
		api:            api,
		pollTimeout:    defaultPollTimeout,
		pollInterval:   defaultPollInterval,
		limiter:        rate.NewLimiter(rate.Limit(defaultSubmitsPerSec), 1),
		logger:         logger,
		settleDelay:    defaultSettleDelay,
		settleInterval: defaultSettleInterval,
	}

	if cfg != nil {
		ing.kbID = cfg.KnowledgeBaseID
		ing.dataSourceID = cfg.DataSourceID

		if d, err := time.ParseDuration(cfg.PollTimeout); err == nil && d > 0 {
			ing.pollTimeout = d
		}

		if d, err := time.ParseDuration(cfg.PollInterval); err == nil && d > 0 {
			ing.pollInterval = d
		}
	}

	return ing
}

// Ingest submits one file and polls until the service indexes it, rejects
// it, or the poll window closes. Empty docID and title default to the
// filename stem. Every failure mode lands in the Result.
func (ing *Ingestor) Ingest(ctx context.Context, localPath, docID, title string) Result {
	if docID == "" {
		docID = stem(localPath)
	}

	if title == "" {
		title = stem(localPath)
	}

	res := Result{DocumentID: docID}

	data, err := os.ReadFile(localPath)
	if err != nil {
		res.Err = fmt.Errorf("kb: reading %s: %w", localPath, err)

		return res
	}

	mimeType := mimeTypeFor(localPath)

	ing.logger.Info("kb: submitting document",
		"doc_id", docID, "path", localPath, "mime_type", mimeType, "bytes", len(data))

	out, err := ing.api.IngestKnowledgeBaseDocuments(ctx, &bedrockagent.IngestKnowledgeBaseDocumentsInput{
		KnowledgeBaseId: aws.String(ing.kbID),
		DataSourceId:    aws.String(ing.dataSourceID),
		Documents:       []types.KnowledgeBaseDocument{buildDocument(docID, title, mimeType, data)},
	})
	if err != nil {
		res.Err = fmt.Errorf("kb: submitting %s: %w", docID, err)

		return res
	}

	// Small documents can be terminal in the submit response already.
	if status, reason, ok := detailFor(out.DocumentDetails, docID); ok {
		if done, terr := ing.statusOutcome(docID, status, reason); done {
			res.Err = terr

			return res
		}
	}

	res.Err = ing.waitForIndexing(ctx, docID)

	return res
}

// IngestDocument adapts Ingest to the transfer manager's sink interface:
// the catalog document ID becomes the knowledge base document identifier
// and the display name becomes the title.
func (ing *Ingestor) IngestDocument(ctx context.Context, localPath string, doc *catalog.DocumentRecord) error {
	return ing.Ingest(ctx, localPath, doc.ID, doc.Name).Err
}

// BatchIngest submits items sequentially, paced by the rate limiter, and
// returns one Result per item keyed by document ID. Cancellation marks the
// remaining items failed; progress still fires once per item.
func (ing *Ingestor) BatchIngest(ctx context.Context, items []BatchItem, progress func(done, total int)) map[string]Result {
	results := make(map[string]Result, len(items))
	total := len(items)

	for i, item := range items {
		docID := item.ID
		if docID == "" {
			docID = stem(item.Path)
		}

		var res Result
		if err := ing.limiter.Wait(ctx); err != nil {
			res = Result{DocumentID: docID, Err: err}
		} else {
			res = ing.Ingest(ctx, item.Path, docID, item.Title)
		}

		results[docID] = res

		if progress != nil {
			progress(i+1, total)
		}
	}

	return results
}

// waitForIndexing polls the document status until it is terminal or the
// poll window closes. Transient status-check failures are logged and
// retried; the window bounds them.
func (ing *Ingestor) waitForIndexing(ctx context.Context, docID string) error {
	ctx, cancel := context.WithTimeout(ctx, ing.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(ing.pollInterval)
	defer ticker.Stop()

	for {
		status, reason, err := ing.documentStatus(ctx, docID)
		if err != nil {
			if ctx.Err() == nil {
				ing.logger.Warn("kb: status check failed, retrying", "doc_id", docID, "error", err)
			}
		} else if done, terr := ing.statusOutcome(docID, status, reason); done {
			return terr
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: document %s still %s after %s",
					ErrPollTimeout, docID, status, ing.pollTimeout)
			}

			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// documentStatus fetches the current indexing status of one document.
func (ing *Ingestor) documentStatus(ctx context.Context, docID string) (types.DocumentStatus, string, error) {
	out, err := ing.api.GetKnowledgeBaseDocuments(ctx, &bedrockagent.GetKnowledgeBaseDocumentsInput{
		KnowledgeBaseId: aws.String(ing.kbID),
		DataSourceId:    aws.String(ing.dataSourceID),
		DocumentIdentifiers: []types.DocumentIdentifier{{
			DataSourceType: types.ContentDataSourceTypeCustom,
			Custom:         &types.CustomDocumentIdentifier{Id: aws.String(docID)},
		}},
	})
	if err != nil {
		return "", "", fmt.Errorf("kb: fetching status of %s: %w", docID, err)
	}

	status, reason, ok := detailFor(out.DocumentDetails, docID)
	if !ok {
		// Right after submission the document may not be visible yet.
		return types.DocumentStatusNotFound, "", nil
	}

	return status, reason, nil
}

// statusOutcome folds a document status into (terminal?, error). NOT_FOUND
// keeps polling: freshly submitted documents surface with a delay.
func (ing *Ingestor) statusOutcome(docID string, status types.DocumentStatus, reason string) (bool, error) {
	switch status {
	case types.DocumentStatusIndexed:
		ing.logger.Info("kb: document indexed", "doc_id", docID)

		return true, nil
	case types.DocumentStatusPartiallyIndexed:
		ing.logger.Warn("kb: document only partially indexed", "doc_id", docID, "reason", reason)

		return true, nil
	case types.DocumentStatusFailed, types.DocumentStatusIgnored, types.DocumentStatusMetadataUpdateFailed:
		if reason == "" {
			reason = "no reason given"
		}

		return true, fmt.Errorf("%w: document %s: %s: %s", ErrIngestFailed, docID, status, reason)
	default:
		return false, nil
	}
}

// buildDocument assembles the inline-content payload: CUSTOM identifier,
// byte content with MIME type, and title/source metadata attributes.
func buildDocument(docID, title, mimeType string, data []byte) types.KnowledgeBaseDocument {
	return types.KnowledgeBaseDocument{
		Content: &types.DocumentContent{
			DataSourceType: types.ContentDataSourceTypeCustom,
			Custom: &types.CustomContent{
				CustomDocumentIdentifier: &types.CustomDocumentIdentifier{
					Id: aws.String(docID),
				},
				SourceType: types.CustomSourceTypeInLine,
				InlineContent: &types.InlineContent{
					Type: types.InlineContentTypeByte,
					ByteContent: &types.ByteContentDoc{
						Data:     data,
						MimeType: aws.String(mimeType),
					},
				},
			},
		},
		Metadata: &types.DocumentMetadata{
			Type: types.MetadataSourceTypeInLineAttribute,
			InlineAttributes: []types.MetadataAttribute{
				{
					Key: aws.String("title"),
					Value: &types.MetadataAttributeValue{
						Type:        types.MetadataValueTypeString,
						StringValue: aws.String(title),
					},
				},
				{
					Key: aws.String("source"),
					Value: &types.MetadataAttributeValue{
						Type:        types.MetadataValueTypeString,
						StringValue: aws.String(sourceAttribute),
					},
				},
			},
		},
	}
}

// detailFor finds the detail row for docID in an API response.
func detailFor(details []types.KnowledgeBaseDocumentDetail, docID string) (types.DocumentStatus, string, bool) {
	for _, d := range details {
		if d.Identifier != nil && d.Identifier.Custom != nil &&
			aws.ToString(d.Identifier.Custom.Id) == docID {
			return d.Status, aws.ToString(d.StatusReason), true
		}
	}

	return "", "", false
}

// stem is the filename without directory or extension, the default
// document identifier and title.
func stem(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
