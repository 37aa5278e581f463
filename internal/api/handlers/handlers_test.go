package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"curbsight/internal/core"
	"curbsight/internal/types"
)

// testValidator builds the shared validator used across handler tests.
func testValidator(t *testing.T) *core.Validator {
	t.Helper()
	v, err := core.NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// agencyCtx returns a context carrying an agency actor.
func agencyCtx() context.Context {
	return types.WithActor(context.Background(), types.Actor{
		ID:   "agency-admin",
		Type: types.ActorTypeAgency,
	})
}

// providerCtx returns a context carrying a provider actor with the given
// scopes.
func providerCtx(providerID string, scopes ...string) context.Context {
	return types.WithActor(context.Background(), types.Actor{
		ID:         "tok_test",
		Type:       types.ActorTypeProvider,
		ProviderID: providerID,
		Scopes:     scopes,
	})
}

// jsonBody marshals v into a request body.
func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

// doRequest routes req through a chi router with the URL parameters set,
// so chi.URLParam works inside handlers.
func doRequest(method, pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.MethodFunc(method, pattern, handler)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the data field of a success envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// errorCode extracts the error code of an error envelope.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}
