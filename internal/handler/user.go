package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linkora/realtime/internal/registry"
	"github.com/linkora/realtime/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
	reg      *registry.Registry
}

func NewUserHandler(userRepo *repository.UserRepository, reg *registry.Registry) *UserHandler {
	return &UserHandler{userRepo: userRepo, reg: reg}
}

// GetUser возвращает публичный профиль с presence. is_online дополняется
// живым реестром: активный стрим — онлайн независимо от состояния в БД.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	pub := u.ToPublic()
	if _, online := h.reg.Lookup(userID); online {
		pub.IsOnline = true
	}
	writeJSON(w, http.StatusOK, pub)
}
