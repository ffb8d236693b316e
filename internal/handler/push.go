package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linkora/realtime/internal/middleware"
	"github.com/linkora/realtime/internal/push"
)

// PushHandler управляет подписками браузера на пуш-уведомления. Когда
// push-сервис не сконфигурирован, оба маршрута отвечают 503: молча принимать
// подписку, которая никогда не сработает, хуже честного отказа.
type PushHandler struct {
	client *push.Client
}

func NewPushHandler(client *push.Client) *PushHandler {
	return &PushHandler{client: client}
}

// subscriptionRequest покрывает оба маршрута: subscription обязателен для
// подписки, endpoint — для отписки.
type subscriptionRequest struct {
	Subscription push.PushSubscription `json:"subscription"`
	Endpoint     string                `json:"endpoint"`
}

func (h *PushHandler) decode(w http.ResponseWriter, r *http.Request) (string, *subscriptionRequest) {
	if !h.client.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push notifications are disabled")
		return "", nil
	}
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", nil
	}
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", nil
	}
	return userID, &req
}

// Subscribe сохраняет подписку текущего пользователя на push-сервисе.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, req := h.decode(w, r)
	if req == nil {
		return
	}
	sub := req.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.client.Subscribe(r.Context(), userID, sub); err != nil {
		if errors.Is(err, push.ErrTooManySubscriptions) {
			writeError(w, http.StatusConflict, "too many subscriptions for this user")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	writeNoContent(w)
}

// Unsubscribe удаляет подписку по её endpoint.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, req := h.decode(w, r)
	if req == nil {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	writeNoContent(w)
}
