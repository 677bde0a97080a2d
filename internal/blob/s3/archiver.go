package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// AuditArchiver implements domain.Archiver. It exports audit entries older
// than a cutoff to JSONL in object storage and then prunes them from the
// store.
type AuditArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an AuditArchiver.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *AuditArchiver {
	return &AuditArchiver{writer: writer, audit: audit}
}

// ArchiveAudit uploads every audit entry created before the cutoff to
// archive/audit/YYYY-MM-DD.jsonl and deletes the uploaded rows. Nothing is
// deleted unless the upload succeeded.
func (a *AuditArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	until := before.Add(-time.Nanosecond)
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":    path,
		"count":   len(entries),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return deleted, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// day of the cutoff.
//
//	archive/audit/2026-10-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes one JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*AuditArchiver)(nil)
