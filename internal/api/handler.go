package api

import (
	"encoding/json"
	"log"
	"net/http"

	"cloudshare-backend/internal/auth"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/ratelimit"
	"cloudshare-backend/internal/repository"
	"cloudshare-backend/internal/service"

	"github.com/go-playground/validator/v10"
)

// Services groups the business services the handlers call
type Services struct {
	Users   *service.UserService
	Folders *service.FolderService
	Files   *service.FileService
	Links   *service.ShareLinkService
	Uploads *service.UploadService
}

// Options carries the transport level settings
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	UploadLimiter  ratelimit.Limiter
	LoginLimiter   ratelimit.Limiter
}

// Handler manages the dependencies of the HTTP handlers
type Handler struct {
	users        *service.UserService
	folders      *service.FolderService
	files        *service.FileService
	links        *service.ShareLinkService
	uploads      *service.UploadService
	tokenService *auth.TokenService
	userStore    repository.UserStore // Checks that token subjects still exist
	validate     *validator.Validate
	opts         Options
}

// NewHandler creates a new Handler
func NewHandler(svc Services, tokenSvc *auth.TokenService, userStore repository.UserStore, opts Options) *Handler {
	return &Handler{
		users:        svc.Users,
		folders:      svc.Folders,
		files:        svc.Files,
		links:        svc.Links,
		uploads:      svc.Uploads,
		tokenService: tokenSvc,
		userStore:    userStore,
		validate:     validator.New(),
		opts:         opts,
	}
}

// === Response helpers ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, errorBody(code, message, ""))
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error serializing JSON: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"internal error while serializing response"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// decodeJSON reads and validates a JSON request body. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid data: "+err.Error())
		return false
	}
	return true
}

// === Auth handlers ===

// handleRegister (POST /auth/register)
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
		Name     string `json:"name" validate:"max=100"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, user)
}

// handleLogin (POST /auth/login)
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	token, user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, struct {
		Token string       `json:"token"`
		User  *models.User `json:"user"`
	}{Token: token, User: user})
}

// handleMe (GET /auth/me)
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	user, err := h.users.GetUserByID(r.Context(), caller.ID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
