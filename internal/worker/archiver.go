package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"curbsight/internal/types"
)

// archiveBatchSize is how many snapshots one archive object holds. Batches
// keep both the SELECT and the DELETE bounded.
const archiveBatchSize = 500

// SnapshotArchiveSource reads and removes snapshots past retention.
type SnapshotArchiveSource interface {
	ListOlderThan(ctx context.Context, cutoff types.Timestamp, limit int) ([]*types.ComplianceSnapshot, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// ObjectPutter is the S3 surface the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver moves compliance snapshots past the retention window out of
// PostgreSQL into zstd-compressed JSON objects in S3. Deletion happens only
// after the object is durably written, so a failed run leaves rows in place
// for the next one.
type Archiver struct {
	snapshots SnapshotArchiveSource
	store     ObjectPutter
	bucket    string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(snapshots SnapshotArchiveSource, store ObjectPutter, bucket string, retention time.Duration, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		snapshots: snapshots,
		store:     store,
		bucket:    bucket,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveExpired archives every snapshot older than the retention cutoff in
// batches, returning the number archived.
func (a *Archiver) ArchiveExpired(ctx context.Context) (int, error) {
	cutoff := types.TimestampFromTime(a.now().Add(-a.retention))

	total := 0
	for {
		batch, err := a.snapshots.ListOlderThan(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		if err := a.archiveBatch(ctx, batch); err != nil {
			return total, err
		}
		total += len(batch)

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// archiveBatch writes one compressed object and deletes the rows it covers.
func (a *Archiver) archiveBatch(ctx context.Context, batch []*types.ComplianceSnapshot) error {
	body, err := compressSnapshots(batch)
	if err != nil {
		return fmt.Errorf("archiver: compressing batch: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s.json.zst", a.now().Format("2006/01/02"), uuid.NewString())
	_, err = a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("archiver: writing s3://%s/%s: %w", a.bucket, key, err)
	}

	ids := make([]string, len(batch))
	for i, s := range batch {
		ids[i] = s.ID
	}
	deleted, err := a.snapshots.DeleteByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("archiver: deleting archived snapshots: %w", err)
	}

	a.logger.InfoContext(ctx, "snapshot batch archived",
		"key", key,
		"snapshots", len(batch),
		"deleted", deleted,
		"bytes", len(body),
	)
	return nil
}

// compressSnapshots marshals the batch as a JSON array and zstd-compresses
// it.
func compressSnapshots(batch []*types.ComplianceSnapshot) ([]byte, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
