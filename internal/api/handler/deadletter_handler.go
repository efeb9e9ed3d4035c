package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/notification-outbox/internal/api/middleware"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/service"
)

// DeadLetterHandler exposes dead-lettered outbox records for inspection and
// replay, per outbox kind.
type DeadLetterHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

func NewDeadLetterHandler(svc *service.Service, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/dead-letters/{kind}
//
// @Summary  List dead-lettered outbox records, oldest first
// @Tags     dead-letters
// @Produce  json
// @Param    kind   path      string  true   "Outbox kind: request or message"
// @Param    limit  query     int     false  "Maximum records (default 50, max 500)"
// @Success  200    {object}  map[string]any
// @Failure  404    {object}  map[string]string
// @Router   /api/v1/dead-letters/{kind} [get]
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown outbox kind")
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	records, err := h.svc.ListDead(r.Context(), kind, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"total": len(records),
	})
}

// Replay handles POST /api/v1/dead-letters/{kind}/{id}/replay
//
// @Summary  Put a dead-lettered record back in line with a fresh retry budget
// @Tags     dead-letters
// @Produce  json
// @Param    kind  path  string  true  "Outbox kind: request or message"
// @Param    id    path  string  true  "Outbox record UUID"
// @Success  202
// @Failure  404   {object}  map[string]string
// @Failure  409   {object}  map[string]string
// @Router   /api/v1/dead-letters/{kind}/{id}/replay [post]
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown outbox kind")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.ReplayDead(r.Context(), kind, id); err != nil {
		h.logger.Warn("dead-letter replay failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("outbox_id", id),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseKind(s string) (domain.OutboxKind, bool) {
	switch domain.OutboxKind(s) {
	case domain.OutboxRequest:
		return domain.OutboxRequest, true
	case domain.OutboxMessage:
		return domain.OutboxMessage, true
	default:
		return "", false
	}
}
