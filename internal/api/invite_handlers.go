package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bspnode/internal/lifecycle"
	"bspnode/internal/models"
)

type inviteResponse struct {
	ID        string     `json:"id"`
	StreamID  string     `json:"streamId"`
	CreatorID string     `json:"creatorId"`
	Role      string     `json:"role"`
	MaxUses   int        `json:"maxUses"`
	UsedCount int        `json:"usedCount"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	// Token is present only in the creation response.
	Token string `json:"token,omitempty"`
}

func inviteToResponse(invite models.HostInvite, token string) inviteResponse {
	return inviteResponse{
		ID:        invite.ID,
		StreamID:  invite.StreamID,
		CreatorID: invite.CreatorID,
		Role:      string(invite.Role),
		MaxUses:   invite.MaxUses,
		UsedCount: invite.UsedCount,
		ExpiresAt: invite.ExpiresAt,
		IsActive:  invite.IsActive,
		CreatedAt: invite.CreatedAt,
		Token:     token,
	}
}

type createInviteRequest struct {
	Role           string `json:"role"`
	MaxUses        int    `json:"maxUses"`
	ExpiresInHours int    `json:"expiresInHours"`
}

func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createInviteRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	created, err := h.Orchestrator.CreateInvite(r.Context(), lifecycle.InviteParams{
		StreamID:       chi.URLParam(r, "id"),
		CreatorID:      userID,
		Role:           models.ParseHostRole(req.Role),
		MaxUses:        req.MaxUses,
		ExpiresInHours: req.ExpiresInHours,
	})
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteToResponse(created.Invite, created.Token))
}

func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	invites, err := h.Orchestrator.ListInvites(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	out := make([]inviteResponse, 0, len(invites))
	for _, invite := range invites {
		out = append(out, inviteToResponse(invite, ""))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	invite, err := h.Orchestrator.RevokeInvite(r.Context(), chi.URLParam(r, "inviteID"), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inviteToResponse(invite, ""))
}
