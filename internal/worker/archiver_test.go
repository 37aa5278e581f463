package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbsight/internal/types"
)

type mockArchiveSource struct {
	batches [][]*types.ComplianceSnapshot
	calls   int

	capturedCutoff types.Timestamp
	deletedIDs     [][]string
	deleteErr      error
}

func (m *mockArchiveSource) ListOlderThan(_ context.Context, cutoff types.Timestamp, _ int) ([]*types.ComplianceSnapshot, error) {
	m.capturedCutoff = cutoff
	if m.calls >= len(m.batches) {
		return nil, nil
	}
	batch := m.batches[m.calls]
	m.calls++
	return batch, nil
}

func (m *mockArchiveSource) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, ids)
	return int64(len(ids)), nil
}

type mockObjectPutter struct {
	putErr error

	keys   []string
	bodies [][]byte
}

func (m *mockObjectPutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.keys = append(m.keys, *params.Key)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func archivedSnapshots(n int, prefix string) []*types.ComplianceSnapshot {
	out := make([]*types.ComplianceSnapshot, n)
	for i := range out {
		out[i] = &types.ComplianceSnapshot{
			ID:             prefix + "_" + string(rune('a'+i%26)),
			ProviderID:     "prov_1",
			PolicyID:       "policy_1",
			ComplianceAsOf: types.Timestamp(1000 + i),
		}
	}
	return out
}

func newTestArchiver(source *mockArchiveSource, store *mockObjectPutter) *Archiver {
	a := NewArchiver(source, store, "curbsight-archive", 90*24*time.Hour, testWorkerLogger())
	a.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	return a
}

func decompressSnapshots(t *testing.T, body []byte) []*types.ComplianceSnapshot {
	t.Helper()
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	raw, err := dec.DecodeAll(body, nil)
	require.NoError(t, err)

	var out []*types.ComplianceSnapshot
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestArchiveExpiredWritesThenDeletes(t *testing.T) {
	snaps := []*types.ComplianceSnapshot{
		{ID: "snap_1", ProviderID: "prov_1", PolicyID: "policy_1", ComplianceAsOf: 1000, TotalViolations: 2},
		{ID: "snap_2", ProviderID: "prov_1", PolicyID: "policy_1", ComplianceAsOf: 2000},
	}
	source := &mockArchiveSource{batches: [][]*types.ComplianceSnapshot{snaps}}
	store := &mockObjectPutter{}

	total, err := newTestArchiver(source, store).ArchiveExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	wantCutoff := types.TimestampFromTime(time.Date(2026, 5, 30, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, wantCutoff, source.capturedCutoff)

	require.Len(t, store.keys, 1)
	assert.True(t, strings.HasPrefix(store.keys[0], "snapshots/2026/08/28/"))
	assert.True(t, strings.HasSuffix(store.keys[0], ".json.zst"))

	restored := decompressSnapshots(t, store.bodies[0])
	require.Len(t, restored, 2)
	assert.Equal(t, "snap_1", restored[0].ID)
	assert.Equal(t, 2, restored[0].TotalViolations)

	require.Len(t, source.deletedIDs, 1)
	assert.Equal(t, []string{"snap_1", "snap_2"}, source.deletedIDs[0])
}

func TestArchiveExpiredDrainsFullBatches(t *testing.T) {
	source := &mockArchiveSource{batches: [][]*types.ComplianceSnapshot{
		archivedSnapshots(archiveBatchSize, "snap_x"),
		archivedSnapshots(10, "snap_y"),
	}}
	store := &mockObjectPutter{}

	total, err := newTestArchiver(source, store).ArchiveExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, archiveBatchSize+10, total)
	assert.Len(t, store.keys, 2)
	assert.Len(t, source.deletedIDs, 2)
}

func TestArchiveExpiredNothingToArchive(t *testing.T) {
	source := &mockArchiveSource{}
	store := &mockObjectPutter{}

	total, err := newTestArchiver(source, store).ArchiveExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, store.keys)
}

func TestArchiveExpiredKeepsRowsOnPutFailure(t *testing.T) {
	source := &mockArchiveSource{batches: [][]*types.ComplianceSnapshot{
		{{ID: "snap_1"}},
	}}
	store := &mockObjectPutter{putErr: errors.New("access denied")}

	total, err := newTestArchiver(source, store).ArchiveExpired(context.Background())
	require.Error(t, err)
	assert.Zero(t, total)
	// Rows stay put until the object is durably written.
	assert.Empty(t, source.deletedIDs)
}

func TestArchiveExpiredSurfacesDeleteFailure(t *testing.T) {
	source := &mockArchiveSource{
		batches:   [][]*types.ComplianceSnapshot{{{ID: "snap_1"}}},
		deleteErr: errors.New("connection reset"),
	}
	store := &mockObjectPutter{}

	_, err := newTestArchiver(source, store).ArchiveExpired(context.Background())
	require.Error(t, err)
	// The object was written; a rerun re-archives the surviving rows.
	assert.Len(t, store.keys, 1)
}
