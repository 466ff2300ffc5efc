package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
)

// Notifications: входящие уведомления, новые сверху. ?limit= по умолчанию 50.
func (h *ChatHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Notifications(r.Context(), middleware.GetUserID(r.Context()), queryInt(r, "limit", 0))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := h.svc.MarkNotificationRead(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
