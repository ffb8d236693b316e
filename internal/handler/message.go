package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/linkora/realtime/internal/fanout"
	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/middleware"
	"github.com/linkora/realtime/internal/model"
	"github.com/linkora/realtime/internal/repository"
)

type MessageHandler struct {
	msgRepo   *repository.MessageRepository
	groupRepo *repository.GroupRepository
	userRepo  *repository.UserRepository
	reactRepo *repository.ReactionRepository
	engine    *fanout.Engine
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	groupRepo *repository.GroupRepository,
	userRepo *repository.UserRepository,
	reactRepo *repository.ReactionRepository,
	engine *fanout.Engine,
) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, groupRepo: groupRepo, userRepo: userRepo, reactRepo: reactRepo, engine: engine}
}

type sendMessageRequest struct {
	To            string            `json:"to,omitempty"`
	GroupID       string            `json:"group_id,omitempty"`
	Kind          model.MessageKind `json:"kind,omitempty"`
	Text          string            `json:"text,omitempty"`
	Media         *model.Media      `json:"media,omitempty"`
	Shared        *model.SharedRef  `json:"shared,omitempty"`
	Location      *model.Location   `json:"location,omitempty"`
	Contact       *model.Contact    `json:"contact,omitempty"`
	ReplyToID     string            `json:"reply_to_id,omitempty"`
	ForwardedFrom string            `json:"forwarded_from,omitempty"`
}

// SendMessage — REST-путь отправки, параллельный сокет-событию sendMessage.
// Ответ клиенту определённый (201 либо ошибка); уведомление получателей —
// best-effort поверх записи.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.To == "") == (req.GroupID == "") {
		writeError(w, http.StatusBadRequest, "exactly one of to or group_id required")
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = model.KindText
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown message kind")
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.Media == nil && req.Shared == nil && req.Location == nil && req.Contact == nil {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	if req.GroupID != "" {
		isMember, err := h.groupRepo.IsMember(r.Context(), req.GroupID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check membership")
			return
		}
		if !isMember {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
	}

	var replyToID, forwardedFrom *string
	if req.ReplyToID != "" {
		replyToID = &req.ReplyToID
	}
	if req.ForwardedFrom != "" {
		forwardedFrom = &req.ForwardedFrom
	}

	m := &model.Message{
		ID:            uuid.New().String(),
		FromUser:      userID,
		ToUser:        req.To,
		GroupID:       req.GroupID,
		Kind:          kind,
		Text:          req.Text,
		Media:         req.Media,
		Shared:        req.Shared,
		Location:      req.Location,
		Contact:       req.Contact,
		ReplyToID:     replyToID,
		ForwardedFrom: forwardedFrom,
		CreatedAt:     time.Now().UTC(),
	}

	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("send message from=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	if sender, err := h.userRepo.GetByID(r.Context(), userID); err == nil {
		pub := sender.ToPublic()
		m.Sender = &pub
	}

	writeJSON(w, http.StatusCreated, m)
	h.engine.DeliverMessage(r.Context(), m)
}

// GetConversation возвращает переписку с пользователем {peerId}, новые сверху.
// Пагинация курсором before (RFC3339).
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerId")
	userID := middleware.GetUserID(r.Context())

	limit := queryLimit(r, 50, 100)
	before := queryTime(r, "before")

	messages, err := h.msgRepo.ListConversation(r.Context(), userID, peerID, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	h.enrich(r, messages)
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) GetGroupMessages(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.groupRepo.IsMember(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	limit := queryLimit(r, 50, 100)
	before := queryTime(r, "before")

	messages, err := h.msgRepo.ListGroup(r.Context(), groupID, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	h.enrich(r, messages)
	writeJSON(w, http.StatusOK, messages)
}

// enrich подтягивает реакции и reply-превью к странице сообщений.
func (h *MessageHandler) enrich(r *http.Request, messages []model.Message) {
	for i := range messages {
		reactions, err := h.reactRepo.GetByMessage(r.Context(), messages[i].ID)
		if err == nil && len(reactions) > 0 {
			messages[i].Reactions = reactions
		}
		if messages[i].ReplyToID != nil {
			replyMsg, err := h.msgRepo.GetByID(r.Context(), *messages[i].ReplyToID)
			if err == nil {
				messages[i].ReplyTo = replyMsg
			}
		}
	}
}

type markSeenRequest struct {
	From    string `json:"from,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req markSeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" && req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "from or group_id required")
		return
	}

	if req.GroupID != "" {
		if err := h.msgRepo.MarkSeenGroup(r.Context(), req.GroupID, userID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to mark as read")
			return
		}
	} else {
		if err := h.msgRepo.MarkSeenFrom(r.Context(), req.From, userID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to mark as read")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	if req.From != "" {
		h.engine.DeliverReadReceipt(r.Context(), req.From, userID)
	}
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction ставит реакцию текущего пользователя на сообщение; повторная
// реакция того же пользователя заменяет прежнюю.
func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	original, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}

	if err := h.reactRepo.Set(r.Context(), messageID, userID, req.Emoji); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add reaction")
		return
	}

	rc := model.Reaction{MessageID: messageID, UserID: userID, Emoji: req.Emoji, CreatedAt: time.Now().UTC()}
	writeJSON(w, http.StatusOK, rc)
	h.engine.DeliverReaction(r.Context(), original, rc)
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	if err := h.reactRepo.Remove(r.Context(), messageID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove reaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessageHandler) GetReactions(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	reactions, err := h.reactRepo.GetByMessage(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reactions")
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}

type editMessageRequest struct {
	Text string `json:"text"`
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if m.FromUser != userID {
		writeError(w, http.StatusForbidden, "not your message")
		return
	}

	editedAt := time.Now().UTC()
	if err := h.msgRepo.EditText(r.Context(), messageID, req.Text, editedAt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to edit message")
		return
	}
	m.Text = req.Text
	m.EditedAt = &editedAt
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if m.FromUser != userID {
		writeError(w, http.StatusForbidden, "not your message")
		return
	}

	if err := h.msgRepo.SoftDelete(r.Context(), messageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
