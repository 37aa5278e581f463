package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// ListPoliciesParams defines the filtering and pagination parameters for
// listing policies.
type ListPoliciesParams struct {
	Status   []types.PolicyStatus `json:"status"`
	ActiveAt *types.Timestamp     `json:"active_at"`
	Limit    int                  `json:"limit"`
	Cursor   string               `json:"cursor"`
}

// PolicyRepository provides data access for the policies table. Rules,
// provider scoping, and supersession links are stored as JSONB alongside the
// scalar columns.
type PolicyRepository struct {
	db DBTX
}

// NewPolicyRepository creates a new PolicyRepository backed by the given
// database connection (pool or transaction).
func NewPolicyRepository(db DBTX) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `p.policy_id, p.name, p.description,
	p.start_date, p.end_date, p.publish_date,
	p.rules, p.provider_ids, p.prev_policies,
	p.status, p.created_at, p.updated_at`

func scanPolicy(row pgx.Row) (*types.Policy, error) {
	var p types.Policy
	var description *string
	err := row.Scan(
		&p.PolicyID,
		&p.Name,
		&description,
		&p.StartDate,
		&p.EndDate,
		&p.PublishDate,
		&p.Rules,
		&p.ProviderIDs,
		&p.PrevPolicies,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description != nil {
		p.Description = *description
	}
	return &p, nil
}

// Create inserts a new policy in draft status. The caller must set PolicyID
// before calling.
func (r *PolicyRepository) Create(ctx context.Context, p *types.Policy) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO policies (
			policy_id, name, description,
			start_date, end_date,
			rules, provider_ids, prev_policies,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, COALESCE($10, NOW()), COALESCE($11, NOW())
		)`,
		p.PolicyID,
		p.Name,
		nilIfEmpty(p.Description),
		p.StartDate,
		p.EndDate,
		p.Rules,
		p.ProviderIDs,
		p.PrevPolicies,
		p.Status,
		nilIfZeroTime(p.CreatedAt),
		nilIfZeroTime(p.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create policy", err)
	}
	return nil
}

// GetByID retrieves a policy by id. Returns ErrCodeNotFoundPolicy if absent.
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*types.Policy, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies p WHERE p.policy_id = $1`, id)

	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPolicy, "policy not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve policy", err)
	}
	return p, nil
}

// Update rewrites a draft policy. Published and deactivated policies are
// immutable; the status guard is enforced here so a racing publish cannot
// be overwritten.
func (r *PolicyRepository) Update(ctx context.Context, p *types.Policy) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE policies SET
			name = $1,
			description = $2,
			start_date = $3,
			end_date = $4,
			rules = $5,
			provider_ids = $6,
			prev_policies = $7,
			updated_at = NOW()
		 WHERE policy_id = $8 AND status = 'draft'`,
		p.Name,
		nilIfEmpty(p.Description),
		p.StartDate,
		p.EndDate,
		p.Rules,
		p.ProviderIDs,
		p.PrevPolicies,
		p.PolicyID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update policy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictPolicyPublished,
			"policy is not editable (published, deactivated, or missing)", nil)
	}
	return nil
}

// Publish transitions a draft policy to published and stamps publish_date.
// Publishing is one-way; a second publish is a conflict.
func (r *PolicyRepository) Publish(ctx context.Context, id string, at types.Timestamp) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE policies SET
			status = 'published',
			publish_date = $1,
			updated_at = NOW()
		 WHERE policy_id = $2 AND status = 'draft'`,
		at, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to publish policy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictPolicyPublished,
			"policy is not in draft status", nil)
	}
	return nil
}

// Deactivate takes a published policy out of force without deleting its
// history. Deactivated policies never re-enter evaluation.
func (r *PolicyRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE policies SET
			status = 'deactivated',
			updated_at = NOW()
		 WHERE policy_id = $1 AND status = 'published'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate policy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictPolicyDeactivated,
			"policy is not published", nil)
	}
	return nil
}

// List retrieves policies with optional status and active-window filtering,
// using cursor-based pagination ordered by created_at DESC. Fetches limit+1
// rows to detect HasMore without a COUNT query.
func (r *PolicyRepository) List(ctx context.Context, params ListPoliciesParams) ([]*types.Policy, types.PageInfo, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var conditions []string
	var args []any
	argIdx := 1

	if len(params.Status) > 0 {
		placeholders := make([]string, len(params.Status))
		for i, s := range params.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("p.status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if params.ActiveAt != nil {
		conditions = append(conditions,
			fmt.Sprintf("p.start_date <= $%d AND (p.end_date IS NULL OR p.end_date >= $%d)", argIdx, argIdx))
		args = append(args, *params.ActiveAt)
		argIdx++
	}

	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("p.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM policies p %s ORDER BY p.created_at DESC LIMIT $%d`,
		policyColumns, whereClause, argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list policies", err)
	}
	defer rows.Close()

	var results []*types.Policy
	for rows.Next() {
		p, scanErr := scanPolicy(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan policy row", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating policy rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}

	return results, pageInfo, nil
}

// ListPublishedActive returns every published policy whose start/end window
// covers asOf. Supersession filtering is the engine's job, not SQL's, so
// this returns superseded policies too.
func (r *PolicyRepository) ListPublishedActive(ctx context.Context, asOf types.Timestamp) ([]*types.Policy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+policyColumns+`
		 FROM policies p
		 WHERE p.status = 'published'
		   AND p.start_date <= $1
		   AND (p.end_date IS NULL OR p.end_date >= $1)
		 ORDER BY p.start_date, p.policy_id`,
		asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active policies", err)
	}
	defer rows.Close()

	var results []*types.Policy
	for rows.Next() {
		p, scanErr := scanPolicy(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan policy row", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating policy rows", err)
	}

	return results, nil
}

// GetBatch fetches multiple policies by id in a single query.
func (r *PolicyRepository) GetBatch(ctx context.Context, ids []string) ([]*types.Policy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+policyColumns+` FROM policies p WHERE p.policy_id = ANY($1)`, ids)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to batch get policies", err)
	}
	defer rows.Close()

	var results []*types.Policy
	for rows.Next() {
		p, scanErr := scanPolicy(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan policy row in batch", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating policy batch rows", err)
	}

	return results, nil
}
