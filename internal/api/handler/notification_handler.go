package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/dispatch/internal/api/middleware"
	"github.com/notifyhub/dispatch/internal/dispatcher"
	"github.com/notifyhub/dispatch/internal/domain"
)

// NotificationHandler serves the client-facing notification endpoints.
type NotificationHandler struct {
	svc    *dispatcher.Service
	logger *zap.Logger
}

func NewNotificationHandler(svc *dispatcher.Service, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// Send handles POST /api/v1/send. The response is 202 Accepted: the row is
// durable and queued, delivery itself is asynchronous.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	client := apimw.GetClient(r.Context())

	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest,
			&domain.Error{Code: "INVALID_BODY", Message: "invalid JSON body"})
		return
	}

	resp, err := h.svc.Submit(r.Context(), client, &req, clientIP(r))
	if err != nil {
		h.logger.Warn("send request rejected",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Int("client_id", client.ID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// Status handles GET /api/v1/status/{id}. Recipients come back masked.
func (h *NotificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	client := apimw.GetClient(r.Context())
	id := chi.URLParam(r, "id")

	resp, err := h.svc.Status(r.Context(), client.ID, id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ForceRetry handles POST /api/v1/retry/{id}: pulls a FAILED or EXPIRED
// notification back to PENDING with a fresh retry budget. The reset is
// already committed when the response goes out, so this returns 200.
func (h *NotificationHandler) ForceRetry(w http.ResponseWriter, r *http.Request) {
	client := apimw.GetClient(r.Context())
	id := chi.URLParam(r, "id")

	resp, err := h.svc.ForceRetry(r.Context(), client.ID, id, clientIP(r))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// List handles GET /api/v1/notifications with filtering and pagination.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	client := apimw.GetClient(r.Context())
	filter := parseListFilter(r)

	rows, total, err := h.svc.List(r.Context(), client.ID, filter)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if ch := q.Get("channel"); ch != "" {
		c := domain.Channel(ch)
		filter.Channel = &c
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from the forwarding
	// headers; strip the port when one is present.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
