package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(api.requestLogger)

	r.Route("/v1", func(r chi.Router) {
		// Health endpoints
		r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Get("/readiness", func(w http.ResponseWriter, _ *http.Request) {
			if !api.Ready() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})

		r.Post("/auth/login", api.login)

		r.Group(func(r chi.Router) {
			r.Use(api.authenticate)

			r.Get("/me", api.me)
			r.Post("/logout", api.logoutBegin)
			r.Post("/logout/discard", api.logoutDiscard)
			r.Get("/blobs/{blobID}", api.blob)

			r.Post("/workspaces", api.createWorkspace)
			r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
				r.Use(api.workspaceCtx)

				r.Delete("/", api.closeWorkspace)
				r.Get("/live", api.live)

				r.Get("/recording", api.recordingStatus)
				r.Post("/recording/start", api.startRecording)
				r.Post("/recording/stop", api.stopRecording)
				r.Post("/recording/pause", api.pauseRecording)
				r.Post("/recording/resume", api.resumeRecording)

				r.Get("/idle", api.idleStatus)
				r.Post("/activity", api.activity)
				r.Post("/unlock", api.unlock)
			})
		})
	})

	return r
}
