package types

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	TotalItems *int   `json:"total_items,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// ResponseMeta contains non-blocking metadata returned with API responses.
type ResponseMeta struct {
	Warnings   []string  `json:"warnings,omitempty"`
	Pagination *PageInfo `json:"pagination,omitempty"`
}

// SnapshotWindow bounds a compliance snapshot query. Zero values mean
// unbounded on that side.
type SnapshotWindow struct {
	Start Timestamp `json:"start_time"`
	End   Timestamp `json:"end_time"`
}

// Contains reports whether ts falls inside the window (inclusive bounds).
func (w SnapshotWindow) Contains(ts Timestamp) bool {
	if w.Start != 0 && ts < w.Start {
		return false
	}
	if w.End != 0 && ts > w.End {
		return false
	}
	return true
}

// AggregateFilters restricts violation-period aggregation to specific
// providers and/or policies. Empty slices mean no restriction.
type AggregateFilters struct {
	ProviderIDs []string `json:"provider_ids,omitempty"`
	PolicyIDs   []string `json:"policy_ids,omitempty"`
}
