package handlers

import (
	"errors"
	"net/http"
	"strconv"

	authsvc "github.com/missionhub/backend/internal/services/auth"
	notifysvc "github.com/missionhub/backend/internal/services/notify"
	"github.com/missionhub/backend/internal/transport/http/dto"
	httperrors "github.com/missionhub/backend/internal/transport/http/errors"
)

const defaultNotificationLimit = 50

type NotificationHandler struct {
	notify *notifysvc.Service
}

func NewNotificationHandler(notify *notifysvc.Service) *NotificationHandler {
	return &NotificationHandler{notify: notify}
}

func (h *NotificationHandler) ListUnread(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.notify == nil {
		writeInternal(w, "NOTIFY_SERVICE_UNAVAILABLE", "notification service is unavailable")
		return
	}

	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.notify.Unread(r.Context(), identity.UserID, limit)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load notifications")
		return
	}

	resp := dto.NotificationListResponse{Notifications: make([]dto.NotificationResponse, 0, len(records))}
	for _, rec := range records {
		resp.Notifications = append(resp.Notifications, dto.NotificationResponse{
			ID:        rec.ID,
			Message:   rec.Message,
			IsRead:    rec.IsRead,
			CreatedAt: rec.CreatedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	notificationID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid notification id")
		return
	}
	if h.notify == nil {
		writeInternal(w, "NOTIFY_SERVICE_UNAVAILABLE", "notification service is unavailable")
		return
	}

	if err := h.notify.MarkRead(r.Context(), notificationID, identity.UserID); err != nil {
		switch {
		case errors.Is(err, notifysvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid notification id")
		case errors.Is(err, notifysvc.ErrNotificationNotFound):
			writeNotFound(w, "NOTIFICATION_NOT_FOUND", "notification not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to mark notification read")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}
