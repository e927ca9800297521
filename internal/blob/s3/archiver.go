package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/predarb/predarb/internal/domain"
)

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ArchiverConfig tunes one archival pass.
type ArchiverConfig struct {
	// MaxAge is how long opportunities stay in the primary store.
	MaxAge time.Duration
	// AlertMaxAge is how long terminal alerts stay queued for inspection.
	AlertMaxAge time.Duration
	// BatchLimit caps opportunities exported per pass.
	BatchLimit int
}

// Archiver exports aged opportunities to JSONL objects and then removes them
// from the primary store. Deletion cascades to their alerts, so terminal
// alert pruning runs first while the queue rows still exist.
type Archiver struct {
	writer BlobWriter
	opps   domain.OpportunityStore
	alerts domain.AlertStore
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer BlobWriter,
	opps domain.OpportunityStore,
	alerts domain.AlertStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		opps:   opps,
		alerts: alerts,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run executes one full archival pass: prune terminal alerts, export aged
// opportunities, delete what was exported. Records are deleted only after the
// upload succeeded; a failed upload leaves everything in place for the next
// pass.
func (a *Archiver) Run(ctx context.Context, now time.Time) error {
	pruned, err := a.alerts.DeleteTerminalBefore(ctx, now.Add(-a.cfg.AlertMaxAge))
	if err != nil {
		return fmt.Errorf("s3blob: prune alerts: %w", err)
	}

	archived, err := a.archiveOpportunities(ctx, now.Add(-a.cfg.MaxAge))
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("alerts_pruned", pruned),
		slog.Int64("opportunities_archived", archived),
	)
	return nil
}

// archiveOpportunities exports opportunities detected before the cutoff to
// archive/opportunities/YYYY-MM.jsonl and deletes the exported rows.
func (a *Archiver) archiveOpportunities(ctx context.Context, cutoff time.Time) (int64, error) {
	opps, err := a.opps.ListDetectedBefore(ctx, cutoff, a.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("opportunities", cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	ids := make([]string, len(opps))
	for i, opp := range opps {
		ids[i] = opp.ID
	}
	deleted, err := a.opps.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive delete: %w", err)
	}

	a.logger.InfoContext(ctx, "opportunities archived",
		slog.String("path", path),
		slog.Int("exported", len(opps)),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/opportunities/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
