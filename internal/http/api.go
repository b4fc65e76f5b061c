// Package http exposes the dictation workspaces over a JSON API and a live
// websocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/observability/logging"
	"clinical-dictation-service/internal/schema"
	"clinical-dictation-service/internal/service/logout"
	"clinical-dictation-service/internal/service/recording"
	"clinical-dictation-service/internal/workspace"
)

const maxBodyBytes = 1 << 20

// ErrLocked is returned for recording operations while the workspace is
// idle-locked.
var ErrLocked = errors.New("workspace is locked")

// Authenticator signs clinicians in and resolves tokens.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, identity.Identity, error)
	Authenticate(ctx context.Context, token string) (identity.Identity, error)
}

// API holds the handler dependencies.
type API struct {
	Auth       Authenticator
	Workspaces *workspace.Manager
	Logout     *logout.Flow
	Validator  *schema.Validator

	ready  atomic.Bool
	logger zerolog.Logger
}

// NewAPI creates the handler set. It reports ready immediately.
func NewAPI(auth Authenticator, workspaces *workspace.Manager, flow *logout.Flow, v *schema.Validator) *API {
	a := &API{
		Auth:       auth,
		Workspaces: workspaces,
		Logout:     flow,
		Validator:  v,
		logger:     logging.WithComponent("http"),
	}
	a.ready.Store(true)
	return a
}

// Ready reports readiness.
func (a *API) Ready() bool { return a.ready.Load() }

// SetReady flips readiness, e.g. during shutdown.
func (a *API) SetReady(ready bool) { a.ready.Store(ready) }

type ctxKey int

const workspaceKey ctxKey = iota

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	})
}

// authenticate resolves the bearer token, or the access_token query
// parameter for websocket upgrades, into an identity on the context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			a.writeError(w, r, identity.ErrNoSession)
			return
		}
		id, err := a.Auth.Authenticate(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

func (a *API) workspaceCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := a.Workspaces.Get(r.Context(), chi.URLParam(r, "workspaceID"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey, ws)))
	})
}

func workspaceFrom(r *http.Request) *workspace.Workspace {
	ws, _ := r.Context().Value(workspaceKey).(*workspace.Workspace)
	return ws
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	if a.Validator != nil {
		if err := a.Validator.Validate(dst); err != nil {
			a.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return false
		}
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var rerr *recording.Error
	switch {
	case errors.As(err, &rerr):
		body.Kind = rerr.Kind.String()
		body.Error = rerr.UserMessage()
		status = http.StatusUnprocessableEntity
		if rerr.Kind == recording.KindPermissionDenied {
			status = http.StatusForbidden
		}
	case errors.Is(err, identity.ErrNoSession), errors.Is(err, identity.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, workspace.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workspace.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, recording.ErrAlreadyRecording):
		status = http.StatusConflict
	case errors.Is(err, recording.ErrDestroyed):
		status = http.StatusGone
	case errors.Is(err, ErrLocked):
		status = http.StatusLocked
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		body.Error = "internal error"
	}
	a.writeJSON(w, status, body)
}
