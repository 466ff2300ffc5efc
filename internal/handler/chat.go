package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmchat/internal/chat"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/model"
)

// ChatService: то, что HTTP-слой берёт у chat.Service.
type ChatService interface {
	Send(ctx context.Context, req chat.SendRequest) (*model.MessageView, error)
	MarkRead(ctx context.Context, req chat.ReadRequest) (bool, error)
	CheckAccess(ctx context.Context, roomID, userID string) (*model.Room, error)
	GetOrCreateDM(ctx context.Context, userID, nickname, opponentID, opponentNickname string) (*model.Room, error)
	ListMessages(ctx context.Context, roomID, userID string, page, size int) ([]model.MessageView, error)
	ListDMRooms(ctx context.Context, userID string) ([]model.DMRoomSummary, error)
	Notifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type CreateDMRequest struct {
	UserID           string `json:"user_id"`
	Nickname         string `json:"nickname"`
	OpponentID       string `json:"opponent_id"`
	OpponentNickname string `json:"opponent_nickname"`
}

// CreateDM находит или создаёт диалог текущего пользователя с opponent_id.
func (h *ChatHandler) CreateDM(w http.ResponseWriter, r *http.Request) {
	var req CreateDMRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	if req.UserID != "" && req.UserID != userID {
		writeError(w, http.StatusBadRequest, "user_id does not match the caller")
		return
	}
	room, err := h.svc.GetOrCreateDM(r.Context(), userID, req.Nickname, req.OpponentID, req.OpponentNickname)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *ChatHandler) ListDMRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.ListDMRooms(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []model.DMRoomSummary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GetMessages: ?page= с нуля, ?size= по умолчанию 30, не больше 100.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", chat.DefaultPageSize)
	msgs, err := h.svc.ListMessages(r.Context(), roomID, middleware.GetUserID(r.Context()), page, size)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.MessageView{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage: HTTP-вариант фрейма send; отправитель всегда вызывающий.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	if req.SenderID != "" && req.SenderID != userID {
		writeError(w, http.StatusBadRequest, "sender_id does not match the caller")
		return
	}
	req.SenderID = userID
	view, err := h.svc.Send(r.Context(), req)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

type markReadResponse struct {
	Advanced bool `json:"advanced"`
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	moved, err := h.svc.MarkRead(r.Context(), chat.ReadRequest{
		RoomID:    chi.URLParam(r, "roomId"),
		UserID:    middleware.GetUserID(r.Context()),
		MessageID: req.MessageID,
	})
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Advanced: moved})
}
