package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/schema"
	"clinical-dictation-service/internal/service/idlelock"
	"clinical-dictation-service/internal/service/logout"
	"clinical-dictation-service/internal/service/recording"
	"clinical-dictation-service/internal/service/stt"
	"clinical-dictation-service/internal/service/transcribe"
	"clinical-dictation-service/internal/workspace"
)

var clinicians = map[string]identity.Identity{
	"tok-1": {ID: "clin-1", Email: "one@example.com", SessionID: "s-1"},
	"tok-2": {ID: "clin-2", Email: "two@example.com", SessionID: "s-2"},
}

type fakeAuth struct{}

func (fakeAuth) Login(ctx context.Context, email, password string) (string, identity.Identity, error) {
	for tok, id := range clinicians {
		if id.Email == email && password == "s3cret" {
			return tok, id, nil
		}
	}
	return "", identity.Identity{}, identity.ErrInvalidCredentials
}

func (fakeAuth) Authenticate(ctx context.Context, token string) (identity.Identity, error) {
	id, ok := clinicians[token]
	if !ok {
		return identity.Identity{}, identity.ErrNoSession
	}
	return id, nil
}

type contextIdentity struct {
	signOuts int
}

func (c *contextIdentity) CurrentIdentity(ctx context.Context) (identity.Identity, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return identity.Identity{}, identity.ErrNoSession
	}
	return id, nil
}

func (c *contextIdentity) VerifyCredentials(ctx context.Context, email, password string) error {
	if password != "s3cret" {
		return identity.ErrInvalidCredentials
	}
	return nil
}

func (c *contextIdentity) SignOut(ctx context.Context) error {
	c.signOuts++
	return nil
}

type apiFixture struct {
	handler http.Handler
	api     *API
	mgr     *workspace.Manager
	data    *dataservice.Memory
	ident   *contextIdentity
	clock   clockwork.FakeClock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		data:  dataservice.NewMemory(),
		ident: &contextIdentity{},
		clock: clockwork.NewFakeClock(),
	}
	auditLog := audit.NewLogger(&audit.MemorySink{})

	rcfg := recording.DefaultConfig()
	rcfg.FlushGrace = 0
	rcfg.SilenceWindow = 0
	rcfg.ChunkInterval = time.Hour

	f.mgr = workspace.NewManager(workspace.Config{
		Recording: rcfg,
		IdleLock:  idlelock.DefaultConfig(),
		Bucket:    "dictations",
	}, workspace.Deps{
		Speech:      stt.None,
		Transcriber: transcribe.NewSynthetic(0),
		Identity:    f.ident,
		Data:        f.data,
		Audit:       auditLog,
		Clock:       f.clock,
	})
	t.Cleanup(f.mgr.CloseAll)

	flow := logout.NewFlow(f.ident, f.data, auditLog, f.clock)
	f.api = NewAPI(fakeAuth{}, f.mgr, flow, schema.New())
	f.handler = NewRouter(f.api)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createWorkspace(t *testing.T, token string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/workspaces", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workspace: status %d: %s", rec.Code, rec.Body)
	}
	var resp workspaceResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	return resp.ID
}

func TestRouter_Health(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/v1/liveness", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected liveness 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/readiness", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected readiness 200, got %d", rec.Code)
	}
	f.api.SetReady(false)
	if rec := f.do(t, http.MethodGet, "/v1/readiness", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected readiness 503, got %d", rec.Code)
	}
}

func TestRouter_Login(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"ok", loginRequest{Email: "one@example.com", Password: "s3cret"}, http.StatusOK},
		{"wrong password", loginRequest{Email: "one@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"invalid email", loginRequest{Email: "not-an-email", Password: "s3cret"}, http.StatusBadRequest},
		{"missing password", map[string]string{"email": "one@example.com"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"email": "one@example.com", "password": "s3cret", "x": "y"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/auth/login", "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/v1/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/me", "bogus", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/me?access_token=tok-1", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "clin-1") {
		t.Errorf("expected query token accepted, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRouter_RecordingLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createWorkspace(t, "tok-1")
	base := "/v1/workspaces/" + id

	rec := f.do(t, http.MethodPost, base+"/recording/start", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	var status recordingStatus
	json.NewDecoder(rec.Body).Decode(&status)
	if !status.IsRecording || !status.UsingFallbackMode || status.State != "RECORDING" {
		t.Errorf("unexpected status %+v", status)
	}

	if rec := f.do(t, http.MethodPost, base+"/recording/start", "tok-1", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second start, got %d", rec.Code)
	}

	ws, _ := f.mgr.Get(identity.WithIdentity(context.Background(), clinicians["tok-1"]), id)
	ws.Feed.Push(make([]byte, 2048))

	if rec := f.do(t, http.MethodPost, base+"/recording/pause", "tok-1", nil); rec.Code != http.StatusOK {
		t.Errorf("pause: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, base+"/recording/resume", "tok-1", nil); rec.Code != http.StatusOK {
		t.Errorf("resume: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, base+"/recording/stop", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d %s", rec.Code, rec.Body)
	}
	var saved workspace.Saved
	json.NewDecoder(rec.Body).Decode(&saved)
	if saved.Transcript == "" || saved.SizeBytes != 2048 {
		t.Errorf("unexpected saved recording %+v", saved)
	}

	blobPath := "/v1/blobs/" + strings.TrimPrefix(saved.PlaybackURL, "blob:")
	rec = f.do(t, http.MethodGet, blobPath, "tok-1", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 2048 {
		t.Errorf("expected playback bytes, got %d (%d bytes)", rec.Code, rec.Body.Len())
	}

	if rec := f.do(t, http.MethodGet, base+"/recording", "tok-1", nil); rec.Code != http.StatusOK {
		t.Errorf("status: %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, base+"/", "tok-1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("close: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, blobPath, "tok-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected playback revoked after close, got %d", rec.Code)
	}
}

func TestRouter_WorkspaceOwnership(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createWorkspace(t, "tok-1")

	if rec := f.do(t, http.MethodGet, "/v1/workspaces/"+id+"/recording", "tok-2", nil); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another clinician, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/workspaces/missing/recording", "tok-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRouter_IdleLockAndUnlock(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createWorkspace(t, "tok-1")
	base := "/v1/workspaces/" + id

	rec := f.do(t, http.MethodPost, base+"/activity", "tok-1", activityRequest{Event: "keydown"})
	if rec.Code != http.StatusOK || rec.Header().Get("X-Activity-Counted") != "true" {
		t.Errorf("expected activity counted, got %d %s", rec.Code, rec.Header().Get("X-Activity-Counted"))
	}

	ws, _ := f.mgr.Get(identity.WithIdentity(context.Background(), clinicians["tok-1"]), id)
	f.clock.Advance(121 * time.Second)
	ws.Guard.Poll()

	var idle idleStatus
	rec = f.do(t, http.MethodGet, base+"/idle", "tok-1", nil)
	json.NewDecoder(rec.Body).Decode(&idle)
	if idle.Phase != "LOCKED" {
		t.Fatalf("expected LOCKED, got %s", idle.Phase)
	}

	if rec := f.do(t, http.MethodPost, base+"/recording/start", "tok-1", nil); rec.Code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, base+"/unlock", "tok-1", unlockRequest{Password: "wrong"})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), idlelock.MsgIncorrectPassword) {
		t.Errorf("expected incorrect password, got %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodPost, base+"/unlock", "tok-1", unlockRequest{Password: "s3cret"})
	json.NewDecoder(rec.Body).Decode(&idle)
	if rec.Code != http.StatusOK || idle.Phase != "ACTIVE" {
		t.Errorf("expected unlock, got %d %+v", rec.Code, idle)
	}
}

func TestRouter_Logout(t *testing.T) {
	f := newAPIFixture(t)
	f.createWorkspace(t, "tok-1")
	ctx := identity.WithIdentity(context.Background(), clinicians["tok-1"])
	f.data.Insert(ctx, "clinical_notes", dataservice.Row{
		"author_id":  "clin-1",
		"patient_id": "pt-1",
		"signed":     false,
		"created_at": f.clock.Now(),
	})

	rec := f.do(t, http.MethodPost, "/v1/logout", "tok-1", nil)
	var out logout.Outcome
	json.NewDecoder(rec.Body).Decode(&out)
	if rec.Code != http.StatusOK || out.SignedOut || len(out.Unsigned) != 1 {
		t.Fatalf("expected confirmation request, got %d %+v", rec.Code, out)
	}
	if f.mgr.Len() != 1 {
		t.Error("expected workspace kept until confirmed")
	}

	rec = f.do(t, http.MethodPost, "/v1/logout/discard", "tok-1", discardRequest{Items: out.Unsigned})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("discard: %d %s", rec.Code, rec.Body)
	}
	if f.ident.signOuts != 1 {
		t.Errorf("expected sign out, got %d", f.ident.signOuts)
	}
	if f.mgr.Len() != 0 {
		t.Errorf("expected workspaces closed on sign out, got %d", f.mgr.Len())
	}
}

func TestRouter_LiveSocket(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createWorkspace(t, "tok-1")

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/workspaces/" + id + "/live?access_token=tok-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered before the upgrade completes, so the
	// start event below reaches this socket.
	if rec := f.do(t, http.MethodPost, "/v1/workspaces/"+id+"/recording/start", "tok-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}

	conn.WriteMessage(websocket.BinaryMessage, make([]byte, 512))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev workspace.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != workspace.EventRecordingState {
		t.Errorf("expected recording_state, got %s", ev.Type)
	}
}
