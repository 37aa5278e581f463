package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbsight/internal/types"
)

type mockSnapshotReader struct {
	snaps          []*types.ComplianceSnapshot
	err            error
	capturedWindow types.SnapshotWindow
}

func (m *mockSnapshotReader) ListWindow(_ context.Context, window types.SnapshotWindow, _ types.AggregateFilters) ([]*types.ComplianceSnapshot, error) {
	m.capturedWindow = window
	return m.snaps, m.err
}

type mockTransactionWriter struct {
	createFn func(ctx context.Context, t *types.FeeTransaction) error
	created  []*types.FeeTransaction
}

func (m *mockTransactionWriter) Create(ctx context.Context, t *types.FeeTransaction) error {
	m.created = append(m.created, t)
	if m.createFn != nil {
		return m.createFn(ctx, t)
	}
	return nil
}

func assessedSnapshot(id, provider, policy string, asOf types.Timestamp, violations int) *types.ComplianceSnapshot {
	return &types.ComplianceSnapshot{
		ID:              id,
		ProviderID:      provider,
		PolicyID:        policy,
		ComplianceAsOf:  asOf,
		TotalViolations: violations,
	}
}

func TestAssessDayChargesPerViolationPeriod(t *testing.T) {
	reader := &mockSnapshotReader{snaps: []*types.ComplianceSnapshot{
		// Two separate violation runs: [1000..2000] closed at 3000, and an
		// open run from 4000.
		assessedSnapshot("snap_1", "prov_1", "policy_1", 1000, 2),
		assessedSnapshot("snap_2", "prov_1", "policy_1", 2000, 1),
		assessedSnapshot("snap_3", "prov_1", "policy_1", 3000, 0),
		assessedSnapshot("snap_4", "prov_1", "policy_1", 4000, 3),
	}}
	writer := &mockTransactionWriter{}

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	result, err := NewAssessor(reader, writer, nil, testBillingLogger()).AssessDay(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 4, result.SnapshotsScanned)
	assert.Equal(t, 1, result.TransactionsCreated)
	// Two periods at the default 2500 cents each.
	assert.Equal(t, int64(5000), result.TotalCents)

	require.Len(t, writer.created, 1)
	txn := writer.created[0]
	assert.Contains(t, txn.TransactionID, "txn_")
	assert.Equal(t, "prov_1", txn.ProviderID)
	assert.Equal(t, "policy_1", txn.PolicyID)
	assert.Equal(t, types.FeeTypeViolation, txn.FeeType)
	assert.Equal(t, int64(5000), txn.AmountCents)
	assert.Equal(t, types.TransactionStatusPending, txn.Status)
	assert.Contains(t, txn.Description, "2 violation period(s)")
	assert.Contains(t, txn.Description, "2026-08-27")
}

func TestAssessDayQueriesTheFullUTCDay(t *testing.T) {
	reader := &mockSnapshotReader{}
	_, err := NewAssessor(reader, &mockTransactionWriter{}, nil, testBillingLogger()).
		AssessDay(context.Background(), time.Date(2026, 8, 27, 15, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	wantStart := types.TimestampFromTime(time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	wantEnd := types.TimestampFromTime(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, wantStart, reader.capturedWindow.Start)
	assert.Equal(t, wantEnd, reader.capturedWindow.End)
}

func TestAssessDaySkipsCleanGroups(t *testing.T) {
	reader := &mockSnapshotReader{snaps: []*types.ComplianceSnapshot{
		assessedSnapshot("snap_1", "prov_1", "policy_1", 1000, 0),
		assessedSnapshot("snap_2", "prov_1", "policy_1", 2000, 0),
		assessedSnapshot("snap_3", "prov_2", "policy_1", 1000, 1),
	}}
	writer := &mockTransactionWriter{}

	result, err := NewAssessor(reader, writer, nil, testBillingLogger()).
		AssessDay(context.Background(), time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 1, result.TransactionsCreated)
	require.Len(t, writer.created, 1)
	assert.Equal(t, "prov_2", writer.created[0].ProviderID)
}

func TestAssessDaySeparatesProviderPolicyGroups(t *testing.T) {
	reader := &mockSnapshotReader{snaps: []*types.ComplianceSnapshot{
		assessedSnapshot("snap_1", "prov_1", "policy_1", 1000, 1),
		assessedSnapshot("snap_2", "prov_1", "policy_2", 1000, 1),
		assessedSnapshot("snap_3", "prov_2", "policy_1", 1000, 1),
	}}
	writer := &mockTransactionWriter{}

	result, err := NewAssessor(reader, writer, nil, testBillingLogger()).
		AssessDay(context.Background(), time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 3, result.TransactionsCreated)
	// Sorted group order keeps reruns byte for byte comparable in logs.
	assert.Equal(t, "prov_1", writer.created[0].ProviderID)
	assert.Equal(t, "policy_1", writer.created[0].PolicyID)
	assert.Equal(t, "prov_1", writer.created[1].ProviderID)
	assert.Equal(t, "policy_2", writer.created[1].PolicyID)
	assert.Equal(t, "prov_2", writer.created[2].ProviderID)
}

func TestAssessDayNoSnapshots(t *testing.T) {
	writer := &mockTransactionWriter{}
	result, err := NewAssessor(&mockSnapshotReader{}, writer, nil, testBillingLogger()).
		AssessDay(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.TransactionsCreated)
	assert.Empty(t, writer.created)
}

func TestAssessDaySurfacesWriteFailure(t *testing.T) {
	reader := &mockSnapshotReader{snaps: []*types.ComplianceSnapshot{
		assessedSnapshot("snap_1", "prov_1", "policy_1", 1000, 1),
	}}
	writer := &mockTransactionWriter{
		createFn: func(_ context.Context, _ *types.FeeTransaction) error {
			return errors.New("insert failed")
		},
	}

	_, err := NewAssessor(reader, writer, nil, testBillingLogger()).
		AssessDay(context.Background(), time.Now())
	require.Error(t, err)
}

func TestDefaultFeeScheduleUnknownTypePricesToZero(t *testing.T) {
	schedule := DefaultFeeSchedule()
	assert.Equal(t, int64(2500), schedule.AmountCents(types.FeeTypeViolation))
	assert.Equal(t, int64(0), schedule.AmountCents(types.FeeType("parking")))
}
