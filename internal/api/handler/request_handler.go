package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/notification-outbox/internal/api/middleware"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
	"github.com/notifyhub/notification-outbox/internal/service"
)

// RequestHandler handles notification-request intake and lifecycle
// endpoints.
type RequestHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

func NewRequestHandler(svc *service.Service, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{svc: svc, logger: logger}
}

// createRequestBody is the POST body. Recipients and senders decode through
// their type-discriminated envelopes.
type createRequestBody struct {
	Requester   domain.Requester     `json:"requester"`
	Recipients  domain.RecipientRefs `json:"recipients"`
	Channels    []domain.Channel     `json:"channels"`
	Senders     domain.SenderInfos   `json:"senders"`
	Content     *domain.Content      `json:"content,omitempty"`
	Template    *domain.TemplateRef  `json:"template,omitempty"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
	Memo        string               `json:"memo,omitempty"`
}

// Create handles POST /api/v1/requests
//
// @Summary     Submit a notification request
// @Tags        requests
// @Accept      json
// @Produce     json
// @Param       X-Idempotency-Key  header    string             false  "Idempotency key"
// @Param       body               body      createRequestBody  true   "Request payload"
// @Success     201                {object}  domain.Request
// @Success     200                {object}  domain.Request     "Duplicate: returned existing request"
// @Failure     422                {object}  map[string]string
// @Router      /api/v1/requests [post]
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, reused, err := h.svc.CreateRequest(r.Context(), service.CreateRequestInput{
		IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
		Requester:      body.Requester,
		Recipients:     body.Recipients,
		Channels:       body.Channels,
		Senders:        body.Senders,
		Content:        body.Content,
		Template:       body.Template,
		ScheduledAt:    body.ScheduledAt,
		Memo:           body.Memo,
	})
	if err != nil {
		h.logger.Warn("create request failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	respondJSON(w, status, req)
}

// GetByID handles GET /api/v1/requests/{id}
//
// @Summary  Get a request by ID
// @Tags     requests
// @Produce  json
// @Param    id   path      string  true  "Request UUID"
// @Success  200  {object}  domain.Request
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/requests/{id} [get]
func (h *RequestHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// List handles GET /api/v1/requests
//
// @Summary  List requests with filtering and pagination
// @Tags     requests
// @Produce  json
// @Param    status  query     string  false  "Filter by status"
// @Param    from    query     string  false  "Created after (RFC3339)"
// @Param    to      query     string  false  "Created before (RFC3339)"
// @Param    page    query     int     false  "Page number (default 1)"
// @Param    limit   query     int     false  "Items per page (default 20, max 100)"
// @Success  200     {object}  map[string]any
// @Router   /api/v1/requests [get]
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	requests, total, err := h.svc.ListRequests(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  requests,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Cancel handles DELETE /api/v1/requests/{id}
//
// @Summary  Cancel a request that has not finished fanning out
// @Tags     requests
// @Produce  json
// @Param    id   path      string  true  "Request UUID"
// @Success  200  {object}  domain.Request
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/requests/{id} [delete]
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.svc.CancelRequest(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func parseListFilter(r *http.Request) repository.ListFilter {
	q := r.URL.Query()
	filter := repository.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.RequestStatus(s)
		filter.Status = &st
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
