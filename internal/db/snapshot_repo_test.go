package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"curbsight/internal/types"
)

func newTestSnapshot() *types.ComplianceSnapshot {
	speed := 3.5
	return &types.ComplianceSnapshot{
		ID:             "snap_abc",
		ComplianceAsOf: 1700000000000,
		ProviderID:     "provider_1",
		PolicyID:       "policy_abc",
		PolicyName:     "Downtown Scooter Cap",
		VehiclesFound: types.VehicleRecords{
			{
				DeviceID:     "device_1",
				State:        types.StateAvailable,
				EventTypes:   []types.VehicleEventType{types.EventDeploy},
				Timestamp:    1699999000000,
				RulesMatched: []string{"rule_1"},
				RuleApplied:  "rule_1",
				Speed:        &speed,
				GPS:          types.GPS{Lat: 34.05, Lng: -118.25},
			},
		},
		ExcessVehiclesCount: 1,
		TotalViolations:     1,
	}
}

// makeScanFnForSnapshot mirrors the column ordering in snapshotColumns.
func makeScanFnForSnapshot(s *types.ComplianceSnapshot) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = s.ID
		*dest[1].(*types.Timestamp) = s.ComplianceAsOf
		*dest[2].(*string) = s.ProviderID
		*dest[3].(*string) = s.PolicyID
		*dest[4].(*string) = s.PolicyName

		vehicleBytes, _ := json.Marshal(s.VehiclesFound)
		if err := dest[5].(*types.VehicleRecords).Scan(vehicleBytes); err != nil {
			return err
		}

		*dest[6].(*int) = s.ExcessVehiclesCount
		*dest[7].(*int) = s.TotalViolations
		return nil
	}
}

func TestSnapshotRepository_Insert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(context.Background(), newTestSnapshot())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSnapshotRepository_InsertBatch_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	// No Exec expectation: an empty batch must not touch the DB.
	err := repo.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSnapshotRepository_InsertBatch_MultiRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	second := newTestSnapshot()
	second.ID = "snap_def"

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 2"), nil)

	err := repo.InsertBatch(context.Background(), []*types.ComplianceSnapshot{newTestSnapshot(), second})
	require.NoError(t, err)

	call := db.Calls[0]
	args := call.Arguments.Get(2).([]any)
	assert.Len(t, args, 16, "8 columns per snapshot")
}

func TestSnapshotRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "snap_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundSnapshot, appErr.Code)
}

func TestSnapshotRepository_ListWindow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	first := newTestSnapshot()
	second := newTestSnapshot()
	second.ID = "snap_def"
	second.ComplianceAsOf = 1700000300000

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(makeScanFnForSnapshot(first), makeScanFnForSnapshot(second)), nil)

	got, err := repo.ListWindow(context.Background(),
		types.SnapshotWindow{Start: 1700000000000, End: 1700001000000},
		types.AggregateFilters{ProviderIDs: []string{"provider_1"}},
	)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "snap_abc", got[0].ID)
	require.Len(t, got[0].VehiclesFound, 1)
	assert.Equal(t, "rule_1", got[0].VehiclesFound[0].RuleApplied)
}

func TestSnapshotRepository_ListWindow_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.ListWindow(context.Background(), types.SnapshotWindow{}, types.AggregateFilters{})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSnapshotRepository_DeleteByIDs(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSnapshotRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 3"), nil)

	n, err := repo.DeleteByIDs(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Empty input short-circuits.
	n, err = repo.DeleteByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
