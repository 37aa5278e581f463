package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"curbsight/internal/core"
	"curbsight/internal/types"
)

// TransactionStore is the data access contract for fee transactions.
type TransactionStore interface {
	Create(ctx context.Context, t *types.FeeTransaction) error
	GetByID(ctx context.Context, id string) (*types.FeeTransaction, error)
	ListByProvider(ctx context.Context, providerID string, status types.TransactionStatus) ([]*types.FeeTransaction, error)
	MarkInvoiced(ctx context.Context, ids []string, invoiceID string) (int64, error)
	SetStatus(ctx context.Context, id string, status types.TransactionStatus) error
}

// Invoicer turns a provider's pending transactions into an upstream
// invoice. Implemented by the billing package over Stripe.
type Invoicer interface {
	InvoiceProvider(ctx context.Context, provider *types.Provider, txns []*types.FeeTransaction) (invoiceID string, err error)
}

// CreateTransactionRequest is the request body for fee creation.
type CreateTransactionRequest struct {
	ProviderID  string        `json:"provider_id" validate:"required"`
	FeeType     types.FeeType `json:"fee_type" validate:"required,oneof=right_of_way violation_penalty permit"`
	AmountCents int64         `json:"amount_cents" validate:"required,gt=0"`
	Description string        `json:"description,omitempty" validate:"max=500"`
	PolicyID    string        `json:"policy_id,omitempty"`
}

// InvoiceRequest is the request body for POST /v1/transactions/invoice.
type InvoiceRequest struct {
	ProviderID string `json:"provider_id" validate:"required"`
}

// TransactionHandler manages provider fee transactions and invoicing.
type TransactionHandler struct {
	transactions TransactionStore
	providers    ProviderStore
	invoicer     Invoicer
	validator    *core.Validator
	logger       *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(transactions TransactionStore, providers ProviderStore, invoicer Invoicer, v *core.Validator, l *slog.Logger) *TransactionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TransactionHandler{
		transactions: transactions,
		providers:    providers,
		invoicer:     invoicer,
		validator:    v,
		logger:       l,
	}
}

// RegisterRoutes mounts transaction routes. Creation and invoicing are
// agency operations behind transactions:write; providers can read their
// own ledger.
func (h *TransactionHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.With(s.RequireScope("transactions:write")).Post("/", h.Create)
			r.With(s.RequireScope("transactions:write")).Post("/invoice", h.Invoice)
			r.With(s.RequireScope("transactions:read")).Get("/{id}", h.Get)
		})
		r.With(s.RequireProviderAccess, s.RequireScope("transactions:read")).
			Get("/providers/{providerID}/transactions", h.ListByProvider)
	}
}

// Create handles POST /v1/transactions.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	// The provider must exist before we put a fee on its ledger.
	if _, err := h.providers.GetByID(r.Context(), req.ProviderID); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	t := &types.FeeTransaction{
		TransactionID: "txn_" + uuid.NewString(),
		ProviderID:    req.ProviderID,
		FeeType:       req.FeeType,
		AmountCents:   req.AmountCents,
		Description:   req.Description,
		PolicyID:      req.PolicyID,
		Status:        types.TransactionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.transactions.Create(r.Context(), t); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: t})
}

// Get handles GET /v1/transactions/{id}.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "transaction id is required", nil))
		return
	}

	t, err := h.transactions.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if actor, ok := types.GetActor(r.Context()); ok &&
		actor.Type == types.ActorTypeProvider && actor.ProviderID != t.ProviderID {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionProviderMismatch, "Token is not authorized for this provider", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: t})
}

// ListByProvider handles GET /v1/providers/{providerID}/transactions with
// an optional status filter.
func (h *TransactionHandler) ListByProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var status types.TransactionStatus
	if v := r.URL.Query().Get("status"); v != "" {
		switch s := types.TransactionStatus(v); s {
		case types.TransactionStatusPending, types.TransactionStatusInvoiced,
			types.TransactionStatusPaid, types.TransactionStatusVoid:
			status = s
		default:
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "unknown transaction status filter: "+v, nil))
			return
		}
	}

	txns, err := h.transactions.ListByProvider(r.Context(), providerID, status)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: txns})
}

// Invoice handles POST /v1/transactions/invoice. Collects the provider's
// pending transactions, creates the upstream invoice, and marks them
// invoiced. No pending transactions is a conflict, not a silent no-op.
func (h *TransactionHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	provider, err := h.providers.GetByID(r.Context(), req.ProviderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	pending, err := h.transactions.ListByProvider(r.Context(), req.ProviderID, types.TransactionStatusPending)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if len(pending) == 0 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictTransactionState,
			"provider has no pending transactions to invoice",
			nil,
		))
		return
	}

	invoiceID, err := h.invoicer.InvoiceProvider(r.Context(), provider, pending)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ids := make([]string, len(pending))
	for i, t := range pending {
		ids[i] = t.TransactionID
	}

	updated, err := h.transactions.MarkInvoiced(r.Context(), ids, invoiceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "provider invoiced",
		"provider_id", req.ProviderID,
		"invoice_id", invoiceID,
		"transactions", updated,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{
			"invoice_id":   invoiceID,
			"transactions": updated,
		},
	})
}
