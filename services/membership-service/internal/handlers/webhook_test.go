package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/localbiz/membership/services/membership-service/internal/gateway"
	"github.com/localbiz/membership/services/membership-service/internal/membership"
	"github.com/localbiz/membership/services/membership-service/internal/plans"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// countingStore counts every store call so tests can assert on "no reads or writes".
type countingStore struct {
	*storage.MemoryStore
	reads, writes int
	findErr       error
	updateErr     error
}

func (s *countingStore) FindRequest(ctx context.Context, id string) (storage.MembershipRequest, error) {
	s.reads++
	if s.findErr != nil {
		return storage.MembershipRequest{}, s.findErr
	}
	return s.MemoryStore.FindRequest(ctx, id)
}

func (s *countingStore) FindPlan(ctx context.Context, id string) (storage.Plan, error) {
	s.reads++
	return s.MemoryStore.FindPlan(ctx, id)
}

func (s *countingStore) UpdateRequest(ctx context.Context, id string, upd storage.RequestUpdate) error {
	s.writes++
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryStore.UpdateRequest(ctx, id, upd)
}

func (s *countingStore) UpdateBusinessLevel(ctx context.Context, businessID, membershipID string, level int) (storage.LevelChange, error) {
	s.writes++
	return s.MemoryStore.UpdateBusinessLevel(ctx, businessID, membershipID, level)
}

func newServer(t *testing.T, secret string) (http.Handler, *countingStore) {
	t.Helper()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	store.PutPlan(storage.Plan{ID: "p1", Level: 2})
	store.PutBusiness(storage.Business{ID: "b1"})
	store.PutRequest(storage.MembershipRequest{ID: "r1", Status: storage.StatusPending, PlanID: "p1", BusinessID: "b1"})

	svc := membership.NewService(store, plans.NewResolver(store), discardLogger, nil, membership.Config{})
	h := New(gateway.NewDecoder(secret), svc, discardLogger, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, store
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func transactionEvent(ref, status string) string {
	return fmt.Sprintf(`{"event":"transaction.updated","data":{"transaction":{"reference":%q,"status":%q,"id":"tx1","payment_method_type":"CARD"}}}`, ref, status)
}

func TestGatewayWebhookApprovedEndToEnd(t *testing.T) {
	h, store := newServer(t, "")

	rw := post(h, transactionEvent("r1", "APPROVED"))
	require.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"received":true}`, rw.Body.String())

	req, err := store.MemoryStore.FindRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, req.Status)
	assert.Equal(t, "tx1", req.TransactionID)
	assert.Equal(t, "CARD", req.PaymentMethod)

	b, err := store.FindBusiness(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "p1", b.MembershipID)
	assert.Equal(t, 2, b.Level)
}

func TestGatewayWebhookUnknownReference(t *testing.T) {
	h, store := newServer(t, "")

	rw := post(h, transactionEvent("missing", "APPROVED"))
	require.Equal(t, http.StatusNotFound, rw.Code)
	assert.JSONEq(t, `{"error":"Request not found"}`, rw.Body.String())
	assert.Zero(t, store.writes)
	assert.Empty(t, store.Events())
}

func TestGatewayWebhookUnrelatedKind(t *testing.T) {
	h, store := newServer(t, "")

	rw := post(h, `{"event":"nequi_token.updated","data":{"nequi_token":{"id":"tok"}}}`)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"received":true}`, rw.Body.String())
	assert.Zero(t, store.reads)
	assert.Zero(t, store.writes)
}

func TestGatewayWebhookUnrelatedKindSkipsChecksum(t *testing.T) {
	h, store := newServer(t, "events-secret")

	rw := post(h, `{"event":"nequi_token.updated","data":{"nequi_token":{"id":"tok"}}}`)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"received":true}`, rw.Body.String())
	assert.Zero(t, store.reads)
	assert.Zero(t, store.writes)
}

func TestGatewayWebhookDeclinedLeavesBusiness(t *testing.T) {
	h, store := newServer(t, "")

	rw := post(h, transactionEvent("r1", "DECLINED"))
	require.Equal(t, http.StatusOK, rw.Code)

	req, err := store.MemoryStore.FindRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCancelled, req.Status)
	assert.Equal(t, 1, store.writes)
}

func TestGatewayWebhookPlanRemovedStillAcknowledges(t *testing.T) {
	h, store := newServer(t, "")
	store.DeletePlan("p1")

	rw := post(h, transactionEvent("r1", "APPROVED"))
	require.Equal(t, http.StatusOK, rw.Code)

	req, err := store.MemoryStore.FindRequest(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, req.Status)
	b, err := store.FindBusiness(context.Background(), "b1")
	require.NoError(t, err)
	assert.Zero(t, b.Level)
}

func TestGatewayWebhookFailures(t *testing.T) {
	unavailable := fmt.Errorf("%w: %w", storage.ErrUnavailable, errors.New("dial tcp: connection refused"))

	tests := []struct {
		name  string
		body  string
		setup func(*countingStore)
	}{
		{name: "malformed body", body: `{"event":"transaction.updated","data":{}}`},
		{name: "not json", body: `<xml/>`},
		{name: "store down on read", body: transactionEvent("r1", "APPROVED"), setup: func(s *countingStore) { s.findErr = unavailable }},
		{name: "store down on request write", body: transactionEvent("r1", "APPROVED"), setup: func(s *countingStore) { s.updateErr = unavailable }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newServer(t, "")
			if tt.setup != nil {
				tt.setup(store)
			}
			rw := post(h, tt.body)
			require.Equal(t, http.StatusInternalServerError, rw.Code)
			assert.JSONEq(t, `{"error":"Internal Server Error"}`, rw.Body.String())

			b, err := store.FindBusiness(context.Background(), "b1")
			require.NoError(t, err)
			assert.Empty(t, b.MembershipID)
		})
	}
}

func TestGatewayWebhookChecksum(t *testing.T) {
	h, _ := newServer(t, "events-secret")

	sum := gateway.Checksum([]string{"tx1", "APPROVED"}, "1700000000", "events-secret")
	signed := `{"event":"transaction.updated","timestamp":1700000000,
		"data":{"transaction":{"reference":"r1","status":"APPROVED","id":"tx1"}},
		"signature":{"properties":["transaction.id","transaction.status"],"checksum":"` + sum + `"}}`
	rw := post(h, signed)
	assert.Equal(t, http.StatusOK, rw.Code)

	rw = post(h, transactionEvent("r1", "APPROVED"))
	assert.Equal(t, http.StatusUnauthorized, rw.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, rw.Body.String())

	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(`{"event":"transaction.updated","timestamp":1700000000,
		"data":{"transaction":{"reference":"r1","status":"APPROVED","id":"tx1"}},
		"signature":{"properties":["transaction.id","transaction.status"]}}`))
	req.Header.Set(ChecksumHeader, sum)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayWebhookMethodAndSize(t *testing.T) {
	h, _ := newServer(t, "")

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, WebhookPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rw.Code)
	assert.Equal(t, http.MethodPost, rw.Header().Get("Allow"))

	big := `{"event":"x","pad":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	rw = post(h, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rw.Code)
}
