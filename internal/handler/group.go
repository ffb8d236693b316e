package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/linkora/realtime/internal/middleware"
	"github.com/linkora/realtime/internal/model"
	"github.com/linkora/realtime/internal/repository"
)

type GroupHandler struct {
	groupRepo *repository.GroupRepository
}

func NewGroupHandler(groupRepo *repository.GroupRepository) *GroupHandler {
	return &GroupHandler{groupRepo: groupRepo}
}

type createGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	MemberIDs   []string `json:"member_ids,omitempty"`
}

// CreateGroup создаёт группу; создатель становится админом, остальные участники
// добавляются сразу.
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	g := &model.Group{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		CreatedBy:   userID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.groupRepo.Create(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	now := time.Now().UTC()
	if err := h.groupRepo.AddMember(r.Context(), &model.GroupMember{GroupID: g.ID, UserID: userID, Role: "admin", JoinedAt: now}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add creator")
		return
	}
	for _, mid := range req.MemberIDs {
		if mid == userID {
			continue
		}
		if err := h.groupRepo.AddMember(r.Context(), &model.GroupMember{GroupID: g.ID, UserID: mid, Role: "member", JoinedAt: now}); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add member")
			return
		}
	}

	writeJSON(w, http.StatusCreated, g)
}

func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
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

	g, err := h.groupRepo.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *GroupHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
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

	ids, err := h.groupRepo.GetMemberIDs(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get members")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"member_ids": ids})
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
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

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	m := &model.GroupMember{GroupID: groupID, UserID: req.UserID, Role: "member", JoinedAt: time.Now().UTC()}
	if err := h.groupRepo.AddMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RemoveMember убирает участника; участник может убрать сам себя (выход из группы).
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	targetID := chi.URLParam(r, "userId")
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

	if err := h.groupRepo.RemoveMember(r.Context(), groupID, targetID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
