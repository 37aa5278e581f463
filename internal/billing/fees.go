package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"curbsight/internal/engine"
	"curbsight/internal/types"
)

// FeeSchedule is the authoritative per-violation penalty schedule. Unknown
// fee types price to zero so a misconfigured assessment never charges a
// provider by accident.
type FeeSchedule interface {
	AmountCents(feeType types.FeeType) int64
}

// staticFeeSchedule is a compile-time schedule backed by an in-memory map.
type staticFeeSchedule struct {
	cents map[types.FeeType]int64
}

// feeDefaults holds the agency's standard penalty amounts in cents.
var feeDefaults = map[types.FeeType]int64{
	types.FeeTypeViolation:  2500,
	types.FeeTypeRightOfWay: 5000,
	types.FeeTypePermit:     25000,
}

// DefaultFeeSchedule returns the standard schedule.
func DefaultFeeSchedule() FeeSchedule {
	return &staticFeeSchedule{cents: feeDefaults}
}

func (s *staticFeeSchedule) AmountCents(feeType types.FeeType) int64 {
	return s.cents[feeType]
}

// SnapshotReader loads the compliance snapshots an assessment covers.
type SnapshotReader interface {
	ListWindow(ctx context.Context, window types.SnapshotWindow, filters types.AggregateFilters) ([]*types.ComplianceSnapshot, error)
}

// TransactionWriter persists assessed penalty transactions.
type TransactionWriter interface {
	Create(ctx context.Context, t *types.FeeTransaction) error
}

// AssessmentResult summarizes one fee assessment run.
type AssessmentResult struct {
	SnapshotsScanned    int
	TransactionsCreated int
	TotalCents          int64
}

// Assessor converts a day's closed violation periods into pending fee
// transactions. It is idempotent only through scheduling: the maintenance
// job lock guarantees one run per assessment day, so the assessor itself
// never deduplicates.
type Assessor struct {
	snapshots SnapshotReader
	txns      TransactionWriter
	schedule  FeeSchedule
	logger    *slog.Logger
}

// NewAssessor creates an Assessor.
func NewAssessor(snapshots SnapshotReader, txns TransactionWriter, schedule FeeSchedule, logger *slog.Logger) *Assessor {
	if schedule == nil {
		schedule = DefaultFeeSchedule()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{snapshots: snapshots, txns: txns, schedule: schedule, logger: logger}
}

// AssessDay charges each provider for the violation periods observed on the
// given UTC day. One transaction is written per (provider, policy) group,
// priced as periods times the violation penalty; groups with no closed or
// open violation run produce nothing.
func (a *Assessor) AssessDay(ctx context.Context, day time.Time) (AssessmentResult, error) {
	var result AssessmentResult

	dayStart := day.UTC().Truncate(24 * time.Hour)
	window := types.SnapshotWindow{
		Start: types.TimestampFromTime(dayStart),
		End:   types.TimestampFromTime(dayStart.Add(24 * time.Hour)),
	}

	snaps, err := a.snapshots.ListWindow(ctx, window, types.AggregateFilters{})
	if err != nil {
		return result, err
	}
	result.SnapshotsScanned = len(snaps)
	if len(snaps) == 0 {
		return result, nil
	}

	perPeriodCents := a.schedule.AmountCents(types.FeeTypeViolation)

	groups := engine.GroupSnapshots(snaps)
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		periods := engine.AggregateViolationPeriods(groups[key])
		if len(periods) == 0 {
			continue
		}
		amount := perPeriodCents * int64(len(periods))
		txn := &types.FeeTransaction{
			TransactionID: "txn_" + uuid.NewString(),
			ProviderID:    periods[0].ProviderID,
			FeeType:       types.FeeTypeViolation,
			AmountCents:   amount,
			Description: fmt.Sprintf("%d violation period(s) under policy %s on %s",
				len(periods), periods[0].PolicyID, dayStart.Format("2006-01-02")),
			PolicyID: periods[0].PolicyID,
			Status:   types.TransactionStatusPending,
		}
		if err := a.txns.Create(ctx, txn); err != nil {
			return result, err
		}
		result.TransactionsCreated++
		result.TotalCents += amount
	}

	a.logger.InfoContext(ctx, "violation fees assessed",
		"day", dayStart.Format("2006-01-02"),
		"snapshots", result.SnapshotsScanned,
		"transactions", result.TransactionsCreated,
		"total_cents", result.TotalCents,
	)
	return result, nil
}
