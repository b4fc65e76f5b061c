package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/service/idlelock"
	"clinical-dictation-service/internal/service/logout"
	"clinical-dictation-service/internal/service/recording"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token    string            `json:"token"`
	Identity identity.Identity `json:"identity"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	token, id, err := a.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, loginResponse{Token: token, Identity: id})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	a.writeJSON(w, http.StatusOK, id)
}

type workspaceResponse struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *API) createWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.Workspaces.Create(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, workspaceResponse{ID: ws.ID, ActorID: ws.Actor.ID, CreatedAt: ws.CreatedAt})
}

func (a *API) closeWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.Workspaces.Close(r.Context(), workspaceFrom(r).ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordingStatus struct {
	SessionID         string     `json:"sessionId,omitempty"`
	State             string     `json:"state"`
	IsRecording       bool       `json:"isRecording"`
	IsPaused          bool       `json:"isPaused"`
	StartTime         *time.Time `json:"startTime,omitempty"`
	DurationSeconds   int        `json:"durationSeconds"`
	LiveTranscript    string     `json:"liveTranscript"`
	InterimText       string     `json:"interimText"`
	Chunks            int        `json:"chunks"`
	UsingFallbackMode bool       `json:"usingFallbackMode"`
}

func statusOf(s recording.Session) recordingStatus {
	return recordingStatus{
		SessionID:         s.ID,
		State:             s.State.String(),
		IsRecording:       s.IsRecording,
		IsPaused:          s.IsPaused,
		StartTime:         s.StartTime,
		DurationSeconds:   s.DurationSeconds,
		LiveTranscript:    s.LiveTranscript,
		InterimText:       s.InterimText,
		Chunks:            len(s.AudioChunks),
		UsingFallbackMode: s.UsingFallbackMode,
	}
}

func (a *API) recordingStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, statusOf(workspaceFrom(r).Engine.Snapshot()))
}

func (a *API) startRecording(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	if ws.Guard.Phase() == idlelock.PhaseLocked {
		a.writeError(w, r, ErrLocked)
		return
	}
	if err := ws.Engine.Start(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusOf(ws.Engine.Snapshot()))
}

func (a *API) stopRecording(w http.ResponseWriter, r *http.Request) {
	saved, err := workspaceFrom(r).Stop(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, saved)
}

func (a *API) pauseRecording(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	if err := ws.Engine.Pause(); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusOf(ws.Engine.Snapshot()))
}

func (a *API) resumeRecording(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	if ws.Guard.Phase() == idlelock.PhaseLocked {
		a.writeError(w, r, ErrLocked)
		return
	}
	if err := ws.Engine.Resume(); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusOf(ws.Engine.Snapshot()))
}

type idleStatus struct {
	Phase            string    `json:"phase"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
	IdleSeconds      int       `json:"idleSeconds"`
	CountdownSeconds int       `json:"countdownSeconds"`
	Error            string    `json:"error,omitempty"`
}

func idleStatusOf(s idlelock.Snapshot) idleStatus {
	return idleStatus{
		Phase:            s.Phase.String(),
		LastActivityAt:   s.LastActivityAt,
		IdleSeconds:      int(s.Idle.Seconds()),
		CountdownSeconds: s.CountdownSeconds,
		Error:            s.Error,
	}
}

func (a *API) idleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, idleStatusOf(workspaceFrom(r).Guard.Snapshot()))
}

type activityRequest struct {
	Event string `json:"event" validate:"required"`
}

func (a *API) activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !a.decode(w, r, &req) {
		return
	}
	ws := workspaceFrom(r)
	counted := ws.Guard.RecordActivity(idlelock.InputEvent(req.Event))
	w.Header().Set("X-Activity-Counted", strconv.FormatBool(counted))
	a.writeJSON(w, http.StatusOK, idleStatusOf(ws.Guard.Snapshot()))
}

type unlockRequest struct {
	Password string `json:"password" validate:"required"`
}

func (a *API) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !a.decode(w, r, &req) {
		return
	}
	ws := workspaceFrom(r)
	if err := ws.Guard.Unlock(r.Context(), req.Password); err != nil {
		// The inline text is what the lock screen shows.
		a.writeJSON(w, http.StatusUnauthorized, errorBody{Error: ws.Guard.Snapshot().Error})
		return
	}
	a.writeJSON(w, http.StatusOK, idleStatusOf(ws.Guard.Snapshot()))
}

func (a *API) logoutBegin(w http.ResponseWriter, r *http.Request) {
	out, err := a.Logout.Begin(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if out.SignedOut {
		a.closeWorkspacesOf(r)
	}
	a.writeJSON(w, http.StatusOK, out)
}

type discardRequest struct {
	Items []logout.Item `json:"items" validate:"required,min=1,dive"`
}

func (a *API) logoutDiscard(w http.ResponseWriter, r *http.Request) {
	var req discardRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Logout.Discard(r.Context(), req.Items); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.closeWorkspacesOf(r)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) closeWorkspacesOf(r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	if n := a.Workspaces.CloseFor(id.ID); n > 0 {
		a.logger.Info().Str("actorId", id.ID).Int("closed", n).Msg("Closed workspaces on sign out")
	}
}

func (a *API) blob(w http.ResponseWriter, r *http.Request) {
	b, ok := a.Workspaces.Blobs().Get("blob:" + chi.URLParam(r, "blobID"))
	if !ok {
		a.writeJSON(w, http.StatusNotFound, errorBody{Error: "blob not found"})
		return
	}
	w.Header().Set("Content-Type", b.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(b.Size()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Data)
}
