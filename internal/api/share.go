package api

import (
	"encoding/json"
	"net/http"
	"time"

	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/service"

	"github.com/go-chi/chi/v5"
)

type createLinkRequest struct {
	FileID    string   `json:"fileId" validate:"required"`
	ExpiresIn int64    `json:"expiresIn" validate:"gte=0"` // seconds, 0 = never
	MaxAccess *int     `json:"maxAccess" validate:"omitempty,gte=1"`
	Scope     string   `json:"scope" validate:"omitempty,oneof=public restricted private"`
	Emails    []string `json:"emails" validate:"omitempty,dive,email"`
	UserIDs   []string `json:"userIds"`
	Password  string   `json:"password" validate:"omitempty,min=4"`
}

// handleCreateLink (POST /share/create and /share/protected)
func (h *Handler) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	scope := models.ScopePublic
	if req.Scope == "restricted" || req.Scope == "private" {
		scope = models.ScopeRestricted
	}
	opts := service.CreateLinkOptions{
		Scope:          scope,
		AllowedEmails:  req.Emails,
		AllowedUserIDs: req.UserIDs,
		Password:       req.Password,
		ExpiresIn:      time.Duration(req.ExpiresIn) * time.Second,
		MaxAccess:      req.MaxAccess,
	}

	created, err := h.links.Create(r.Context(), callerFrom(r.Context()), req.FileID, opts)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, struct {
		ShareURL string `json:"shareUrl"`
		*linkResponse
	}{ShareURL: created.ShareURL, linkResponse: newLinkResponse(created)})
}

// handleAccessLink (GET /share/access/{token}?password= and POST with a body)
func (h *Handler) handleAccessLink(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		password = body.Password
	}

	result, err := h.links.Access(r.Context(), chi.URLParam(r, "token"), password, callerFrom(r.Context()))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

// handleRevokeLink (DELETE /share/delete/{token})
func (h *Handler) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Revoke(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "token")); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "share link revoked"})
}

// handleAddToAccount (POST /share/add-to-account/{token})
func (h *Handler) handleAddToAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	entity, err := h.links.AddToAccount(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "token"), body.Password)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, entity)
}

// handleUnseen (GET /share/unseen)
func (h *Handler) handleUnseen(w http.ResponseWriter, r *http.Request) {
	unseen, err := h.links.Unseen(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"unseen":      len(unseen),
		"unseenLinks": unseen,
	})
}

// handleListLinks (GET /share/mine)
func (h *Handler) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.ListMine(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"links": links})
}
