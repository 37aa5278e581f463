// Package billing turns provider fee transactions into Stripe invoices and
// holds the fee schedule for violation penalties.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"curbsight/internal/types"
	"curbsight/internal/upstream"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// StripeInvoicerConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// invoiceDueDays is the payment window written onto every invoice.
const invoiceDueDays = 30

// CustomerStore records the Stripe customer id created for a provider so the
// next invoice run reuses it.
type CustomerStore interface {
	SetStripeCustomer(ctx context.Context, providerID, stripeCustomerID string) error
}

// StripeInvoicerConfig configures a StripeInvoicer.
type StripeInvoicerConfig struct {
	SecretKey string
	BaseURL   string
	Logger    *slog.Logger
}

// StripeInvoicer creates Stripe invoices from pending fee transactions by
// calling the Stripe REST API directly through the shared upstream client, so
// invoicing inherits the platform's circuit breaking and retry behavior.
type StripeInvoicer struct {
	base      *upstream.Client
	secretKey string
	baseURL   string
	customers CustomerStore
	logger    *slog.Logger
}

// NewStripeInvoicer creates a StripeInvoicer.
func NewStripeInvoicer(httpClient *http.Client, customers CustomerStore, cfg StripeInvoicerConfig) *StripeInvoicer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := upstream.NewClient(
		httpClient,
		"stripe",
		types.ErrCodeUpstreamBilling,
		"CurbSight/1.0",
		upstream.RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
	)

	return &StripeInvoicer{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		customers: customers,
		logger:    logger,
	}
}

// InvoiceProvider creates one Stripe invoice covering the given transactions
// and returns its id. The invoice is created as send_invoice with a 30 day
// window; each transaction becomes a line item carrying its transaction id in
// metadata so payment can be reconciled back.
func (s *StripeInvoicer) InvoiceProvider(ctx context.Context, provider *types.Provider, txns []*types.FeeTransaction) (string, error) {
	customerID, err := s.ensureCustomer(ctx, provider)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("collection_method", "send_invoice")
	params.Set("days_until_due", strconv.Itoa(invoiceDueDays))
	params.Set("metadata[provider_id]", provider.ProviderID)

	resp, err := s.doPost(ctx, "/v1/invoices", params)
	if err != nil {
		return "", err
	}
	invoice, err := decodeStripe[stripeInvoice](resp, "create invoice")
	if err != nil {
		return "", err
	}

	for _, txn := range txns {
		itemParams := url.Values{}
		itemParams.Set("customer", customerID)
		itemParams.Set("invoice", invoice.ID)
		itemParams.Set("amount", strconv.FormatInt(txn.AmountCents, 10))
		itemParams.Set("currency", "usd")
		itemParams.Set("description", lineDescription(txn))
		itemParams.Set("metadata[transaction_id]", txn.TransactionID)
		itemParams.Set("metadata[fee_type]", string(txn.FeeType))

		itemResp, err := s.doPost(ctx, "/v1/invoiceitems", itemParams)
		if err != nil {
			return "", err
		}
		if _, err := decodeStripe[stripeObject](itemResp, "create invoice item"); err != nil {
			return "", err
		}
	}

	finalizeResp, err := s.doPost(ctx, "/v1/invoices/"+invoice.ID+"/finalize", url.Values{})
	if err != nil {
		return "", err
	}
	if _, err := decodeStripe[stripeInvoice](finalizeResp, "finalize invoice"); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "stripe invoice created",
		"provider_id", provider.ProviderID,
		"invoice_id", invoice.ID,
		"transactions", len(txns),
	)
	return invoice.ID, nil
}

// ensureCustomer resolves the provider's Stripe customer, searching by
// provider_id metadata before creating one so retried runs never duplicate
// customers. Newly created ids are written back best effort; a write failure
// only costs an extra search next run.
func (s *StripeInvoicer) ensureCustomer(ctx context.Context, provider *types.Provider) (string, error) {
	if provider.StripeID != "" {
		return provider.StripeID, nil
	}

	searchParams := url.Values{}
	searchParams.Set("query", fmt.Sprintf("metadata['provider_id']:'%s'", provider.ProviderID))

	searchResp, err := s.doGet(ctx, "/v1/customers/search", searchParams)
	if err != nil {
		return "", err
	}
	search, err := decodeStripe[stripeSearchResult](searchResp, "search customers")
	if err != nil {
		return "", err
	}
	if len(search.Data) > 0 {
		s.saveCustomerID(ctx, provider.ProviderID, search.Data[0].ID)
		return search.Data[0].ID, nil
	}

	createParams := url.Values{}
	createParams.Set("name", provider.Name)
	createParams.Set("metadata[provider_id]", provider.ProviderID)
	if provider.BillingEmail != "" {
		createParams.Set("email", provider.BillingEmail)
	}

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", err
	}
	customer, err := decodeStripe[stripeObject](createResp, "create customer")
	if err != nil {
		return "", err
	}

	s.saveCustomerID(ctx, provider.ProviderID, customer.ID)
	return customer.ID, nil
}

func (s *StripeInvoicer) saveCustomerID(ctx context.Context, providerID, customerID string) {
	if s.customers == nil {
		return
	}
	if err := s.customers.SetStripeCustomer(ctx, providerID, customerID); err != nil {
		s.logger.WarnContext(ctx, "failed to record stripe customer id",
			"provider_id", providerID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

func (s *StripeInvoicer) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	endpoint := s.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build stripe request", err)
	}
	s.setHeaders(req)
	return s.base.Do(req)
}

func (s *StripeInvoicer) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setHeaders(req)
	return s.base.Do(req)
}

func (s *StripeInvoicer) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// lineDescription renders one fee transaction as an invoice line.
func lineDescription(txn *types.FeeTransaction) string {
	if txn.Description != "" {
		return txn.Description
	}
	switch txn.FeeType {
	case types.FeeTypeViolation:
		return "Policy violation penalty"
	case types.FeeTypeRightOfWay:
		return "Right-of-way fee"
	case types.FeeTypePermit:
		return "Permit fee"
	default:
		return string(txn.FeeType)
	}
}

// decodeStripe closes the response body and decodes a 2xx payload into T;
// non-2xx responses are mapped to an upstream billing error carrying Stripe's
// own message when one is present.
func decodeStripe[T any](resp *http.Response, op string) (*T, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody stripeErrorResponse
		msg := fmt.Sprintf("stripe %s returned %d", op, resp.StatusCode)
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error.Message != "" {
			msg = fmt.Sprintf("stripe %s: %s", op, errBody.Error.Message)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamBilling, msg, nil)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to decode stripe %s response", op), err)
	}
	return &out, nil
}

type stripeObject struct {
	ID string `json:"id"`
}

type stripeInvoice struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeSearchResult struct {
	Data []stripeObject `json:"data"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
