package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes configures and returns the chi router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // Preflight cache
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(h.opts.LoginLimiter, "too many authentication attempts, try again later"))
			r.Post("/auth/register", h.handleRegister)
			r.Post("/auth/login", h.handleLogin)
		})

		// Share links can be opened without an account
		r.Group(func(r chi.Router) {
			r.Use(h.OptionalAuth)
			r.Get("/share/access/{token}", h.handleAccessLink)
			r.Post("/share/access/{token}", h.handleAccessLink)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.handleMe)

			r.Route("/files", func(r chi.Router) {
				r.With(h.RateLimit(h.opts.UploadLimiter, "too many uploads, try again later")).
					Post("/upload", h.handleUpload)
				r.Get("/", h.handleListAll)
				r.Get("/list", h.handleListChildren)
				r.Post("/folder", h.handleCreateFolder)
				r.Put("/move", h.handleMove)
				r.Put("/rename", h.handleRename)
				r.Get("/download/{id}", h.handleDownload)
				r.Get("/preview/{id}", h.handlePreview)
				r.Get("/storage", h.handleStorage)
				r.Post("/share", h.handleShare)
				r.Post("/unshare", h.handleUnshare)
				r.Get("/shared-with-me", h.handleSharedWithMe)
				r.Delete("/{id}", h.handleDelete)
			})

			r.Route("/share", func(r chi.Router) {
				r.Post("/create", h.handleCreateLink)
				r.Post("/protected", h.handleCreateLink)
				r.Delete("/delete/{token}", h.handleRevokeLink)
				r.Post("/add-to-account/{token}", h.handleAddToAccount)
				r.Get("/unseen", h.handleUnseen)
				r.Get("/mine", h.handleListLinks)
			})
		})
	})

	return r
}
