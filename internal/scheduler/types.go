// Package scheduler defines the maintenance multiplexer payloads and the
// small services behind them. EventBridge rules send a MaintenancePayload to
// the maintenance Lambda, which routes on TaskType to the matching service:
// periodic compliance evaluation, provider registry sync, snapshot archival,
// violation fee assessment, and job history cleanup.
package scheduler

import "time"

// TaskType identifies which maintenance service handles an EventBridge
// event.
type TaskType string

const (
	TaskEvaluateCompliance TaskType = "evaluate_compliance"
	TaskSyncRegistry       TaskType = "sync_registry"
	TaskArchiveSnapshots   TaskType = "archive_snapshots"
	TaskAssessFees         TaskType = "assess_violation_fees"
	TaskCleanupJobHistory  TaskType = "cleanup_job_history"
)

// MaintenancePayload is the JSON payload EventBridge sends to the
// maintenance Lambda. ReferenceTime lets manual invocations pin "now" for
// deterministic reruns and backfills; when nil the handler uses the wall
// clock.
type MaintenancePayload struct {
	Task          TaskType   `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
