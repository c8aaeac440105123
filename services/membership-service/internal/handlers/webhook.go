// Package handlers exposes the payment gateway webhook over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/localbiz/membership/libs/httpx"
	"github.com/localbiz/membership/services/membership-service/internal/gateway"
	"github.com/localbiz/membership/services/membership-service/internal/membership"
	"github.com/localbiz/membership/services/membership-service/internal/metrics"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
)

const (
	WebhookPath = "/api/v1/memberships/webhooks/gateway"

	// MaxBodyBytes caps a notification body at 1 MiB.
	MaxBodyBytes = 1 << 20

	ChecksumHeader = "X-Event-Checksum"
)

type Applier interface {
	Apply(ctx context.Context, evt gateway.PaymentEvent) (membership.Result, error)
}

type Handler struct {
	decoder *gateway.Decoder
	svc     Applier
	logger  *slog.Logger
	metrics metrics.Recorder
}

func New(decoder *gateway.Decoder, svc Applier, logger *slog.Logger, m metrics.Recorder) *Handler {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Handler{decoder: decoder, svc: svc, logger: logger, metrics: m}
}

func (h *Handler) Register(mux *http.ServeMux, mw ...httpx.Middleware) {
	mux.Handle(WebhookPath, httpx.Chain(http.HandlerFunc(h.GatewayWebhook), mw...))
}

// GatewayWebhook receives gateway notifications. The gateway is the only
// caller; the checksum is the authentication.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, errorBody("Method Not Allowed"))
		return
	}
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteJSON(w, http.StatusRequestEntityTooLarge, errorBody("Request Entity Too Large"))
			return
		}
		h.logger.WarnContext(ctx, "gateway webhook: read body failed", "err", err)
		h.internalError(w)
		return
	}

	n, err := h.decoder.Decode(body, r.Header.Get(ChecksumHeader))
	eventType := metricEventType(n)
	defer func() { h.metrics.RecordWebhookDuration(eventType, time.Since(start)) }()
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			h.metrics.RecordWebhookEvent(eventType, metrics.OutcomeSignature)
			h.logger.WarnContext(ctx, "gateway webhook: checksum mismatch", "request_id", httpx.RequestIDFromContext(ctx), "err", err)
			httpx.WriteJSON(w, http.StatusUnauthorized, errorBody("Invalid signature"))
			return
		}
		h.metrics.RecordWebhookEvent(eventType, metrics.OutcomeMalformed)
		h.logger.WarnContext(ctx, "gateway webhook: malformed event", "request_id", httpx.RequestIDFromContext(ctx), "err", err)
		h.internalError(w)
		return
	}

	if !n.Handled() {
		h.metrics.RecordWebhookEvent(eventType, metrics.OutcomeIgnored)
		h.logger.InfoContext(ctx, "gateway webhook: event ignored", "event_type", n.Type)
		h.received(w)
		return
	}

	evt := *n.Payment
	h.logger.InfoContext(ctx, "gateway event received",
		"event_type", n.Type,
		"reference", evt.RequestID,
		"gateway_status", evt.RawStatus,
		"transaction_id", evt.TransactionID,
	)

	res, err := h.svc.Apply(ctx, evt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.metrics.RecordWebhookEvent(eventType, metrics.OutcomeNotFound)
			h.logger.WarnContext(ctx, "gateway webhook: unknown reference", "reference", evt.RequestID)
			httpx.WriteJSON(w, http.StatusNotFound, errorBody("Request not found"))
			return
		}
		h.metrics.RecordWebhookEvent(eventType, metrics.OutcomeError)
		h.logger.ErrorContext(ctx, "gateway webhook: apply failed", "reference", evt.RequestID, "err", err)
		h.internalError(w)
		return
	}

	outcome := metrics.OutcomeProcessed
	if res.Transition.Superseded {
		outcome = metrics.OutcomeSuperseded
	}
	h.metrics.RecordWebhookEvent(eventType, outcome)
	h.received(w)
}

func (h *Handler) received(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) internalError(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusInternalServerError, errorBody("Internal Server Error"))
}

func errorBody(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// metricEventType keeps the label set bounded: kinds other than the one we
// act on are grouped together.
func metricEventType(n gateway.Notification) string {
	switch {
	case n.Type == "":
		return "unknown"
	case n.Type == gateway.EventTransactionUpdated:
		return n.Type
	default:
		return "other"
	}
}
