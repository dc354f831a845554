package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"notify-service/internal/domain/entity"
	"notify-service/internal/domain/service"
	"notify-service/internal/middleware"
)

// NotificationHandler serves the record queries of the authenticated user
type NotificationHandler struct {
	notifications service.NotificationService
	log           zerolog.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications service.NotificationService, log zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		log:           log,
	}
}

// List handles GET /api/v1/notifications?page=&limit=&type=&status=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := entity.ListFilter{
		Channel: entity.Channel(strings.ToLower(q.Get("type"))),
		Status:  entity.NotificationStatus(strings.ToLower(q.Get("status"))),
	}

	page, err := intParam(q.Get("page"))
	if err != nil {
		handleServiceError(w, h.log, entity.NewValidationError("page", "must be an integer"))
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		handleServiceError(w, h.log, entity.NewValidationError("limit", "must be an integer"))
		return
	}

	result, err := h.notifications.List(r.Context(), userID, filter, page, limit)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Stats handles GET /api/v1/notifications/stats
func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.notifications.Stats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// MarkRead handles PATCH /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.notifications.MarkRead(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

// Delete handles DELETE /api/v1/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.notifications.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll handles DELETE /api/v1/notifications
func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	deleted, err := h.notifications.DeleteAll(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
