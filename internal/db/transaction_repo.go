package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// TransactionRepository provides data access for the fee_transactions
// table.
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `t.transaction_id, t.provider_id, t.fee_type,
	t.amount_cents, t.description, t.policy_id, t.status, t.invoice_id,
	t.created_at, t.updated_at`

func scanTransaction(row pgx.Row) (*types.FeeTransaction, error) {
	var t types.FeeTransaction
	var (
		description *string
		policyID    *string
		invoiceID   *string
	)
	err := row.Scan(
		&t.TransactionID,
		&t.ProviderID,
		&t.FeeType,
		&t.AmountCents,
		&description,
		&policyID,
		&t.Status,
		&invoiceID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	if policyID != nil {
		t.PolicyID = *policyID
	}
	if invoiceID != nil {
		t.InvoiceID = *invoiceID
	}
	return &t, nil
}

// Create inserts a new pending fee transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *types.FeeTransaction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO fee_transactions (
			transaction_id, provider_id, fee_type, amount_cents,
			description, policy_id, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		t.TransactionID,
		t.ProviderID,
		t.FeeType,
		t.AmountCents,
		nilIfEmpty(t.Description),
		nilIfEmpty(t.PolicyID),
		t.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create fee transaction", err)
	}
	return nil
}

// GetByID retrieves a fee transaction by id.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*types.FeeTransaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+`
		 FROM fee_transactions t
		 WHERE t.transaction_id = $1`, id)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "fee transaction not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve fee transaction", err)
	}
	return t, nil
}

// ListByProvider returns a provider's transactions, optionally filtered by
// status, newest first.
func (r *TransactionRepository) ListByProvider(ctx context.Context, providerID string, status types.TransactionStatus) ([]*types.FeeTransaction, error) {
	query := `SELECT ` + transactionColumns + `
	 FROM fee_transactions t
	 WHERE t.provider_id = $1`
	args := []any{providerID}
	if status != "" {
		query += ` AND t.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY t.created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list fee transactions", err)
	}
	defer rows.Close()

	var results []*types.FeeTransaction
	for rows.Next() {
		t, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan fee transaction row", scanErr)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating fee transaction rows", err)
	}

	return results, nil
}

// MarkInvoiced attaches the Stripe invoice id to pending transactions and
// moves them to invoiced. Only pending rows transition; anything else is a
// state conflict the caller surfaces.
func (r *TransactionRepository) MarkInvoiced(ctx context.Context, ids []string, invoiceID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE fee_transactions SET
			status = 'invoiced',
			invoice_id = $1,
			updated_at = NOW()
		 WHERE transaction_id = ANY($2) AND status = 'pending'`,
		invoiceID, ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark transactions invoiced", err)
	}
	return tag.RowsAffected(), nil
}

// SetStatus transitions one transaction. The allowed transitions are
// enforced by the transaction service; this only refuses no-op updates on
// missing rows.
func (r *TransactionRepository) SetStatus(ctx context.Context, id string, status types.TransactionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE fee_transactions SET status = $1, updated_at = NOW()
		 WHERE transaction_id = $2`,
		status, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update fee transaction status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTransaction, "fee transaction not found", nil)
	}
	return nil
}
