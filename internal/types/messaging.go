package types

// ComplianceJob is the SQS payload sent from the API (on-demand evaluation)
// or the scheduler to the engine worker. JSON tags are the queue contract.
type ComplianceJob struct {
	JobID   string    `json:"job_id"`
	TraceID string    `json:"trace_id"`
	AsOf    Timestamp `json:"as_of"`

	// ProviderIDs restricts evaluation to these providers. Empty means
	// every active provider.
	ProviderIDs []string `json:"provider_ids,omitempty"`

	// PolicyIDs restricts evaluation to these policies. Empty means every
	// published, non-superseded policy active at AsOf.
	PolicyIDs []string `json:"policy_ids,omitempty"`

	// RetryCount carries the retry state across the SQS publish cycle.
	RetryCount int `json:"retry_count"`
}
