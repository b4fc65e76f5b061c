// Package idlelock locks a clinician's workspace after a period without
// input and unlocks it only on re-authentication.
package idlelock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/observability/logging"
	"clinical-dictation-service/internal/observability/metrics"
)

// Unlock failure texts shown inline on the lock screen.
const (
	MsgIncorrectPassword = "Incorrect password"
	MsgSessionExpired    = "Your session has expired. Please log in again."
)

// Phase of the guard.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseWarning
	PhaseLocked
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "ACTIVE"
	case PhaseWarning:
		return "WARNING"
	case PhaseLocked:
		return "LOCKED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// InputEvent names a user input event.
type InputEvent string

// Monitored input events.
const (
	EventPointerDown InputEvent = "pointerdown"
	EventPointerMove InputEvent = "pointermove"
	EventMouseMove   InputEvent = "mousemove"
	EventKeyDown     InputEvent = "keydown"
	EventScroll      InputEvent = "scroll"
	EventTouchStart  InputEvent = "touchstart"
)

// Monitored reports whether e counts as activity.
func (e InputEvent) Monitored() bool {
	switch e {
	case EventPointerDown, EventPointerMove, EventMouseMove, EventKeyDown, EventScroll, EventTouchStart:
		return true
	}
	return false
}

// Config holds the guard thresholds.
type Config struct {
	WarningThreshold time.Duration
	LockThreshold    time.Duration
	PollInterval     time.Duration
}

// DefaultConfig returns 90s warning, 120s lock, polled every second.
func DefaultConfig() Config {
	return Config{
		WarningThreshold: 90 * time.Second,
		LockThreshold:    120 * time.Second,
		PollInterval:     time.Second,
	}
}

// LockStore persists lock state per clinician so a remount while locked
// starts locked.
type LockStore interface {
	SetLocked(ctx context.Context, actorID string, at time.Time) error
	ClearLock(ctx context.Context, actorID string) error
	IsLocked(ctx context.Context, actorID string) (bool, error)
}

// Callbacks are invoked outside the guard lock. Any may be nil.
type Callbacks struct {
	// OnLock fires once per lock episode.
	OnLock        func()
	OnUnlock      func()
	OnPhaseChange func(Phase)
}

// Deps are the guard's collaborators. Identity is required.
type Deps struct {
	Identity identity.Provider
	Store    LockStore
	Audit    *audit.Logger
	Clock    clockwork.Clock
}

// Snapshot is a point-in-time view of the guard.
type Snapshot struct {
	Phase          Phase
	LastActivityAt time.Time
	Idle           time.Duration
	// CountdownSeconds is the time left until lock, rounded up.
	CountdownSeconds int
	// Error is the inline text of the last failed unlock.
	Error string
}

// Guard tracks idle time for one mounted workspace.
type Guard struct {
	actorID string
	cfg     Config
	deps    Deps
	cb      Callbacks
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu           sync.Mutex
	phase        Phase
	lastActivity time.Time
	errText      string
	mounted      bool
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewGuard creates an unmounted guard for actorID.
func NewGuard(actorID string, cfg Config, deps Deps, cb Callbacks) *Guard {
	def := DefaultConfig()
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = def.WarningThreshold
	}
	if cfg.LockThreshold <= cfg.WarningThreshold {
		cfg.LockThreshold = cfg.WarningThreshold + (def.LockThreshold - def.WarningThreshold)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{
		actorID:      actorID,
		cfg:          cfg,
		deps:         deps,
		cb:           cb,
		clock:        clock,
		metrics:      metrics.DefaultMetrics,
		logger:       logging.WithSession("idlelock", "", actorID),
		lastActivity: clock.Now(),
	}
}

// Mount starts the poll loop. A clinician locked elsewhere starts LOCKED.
// Mounting a mounted guard is a no-op.
func (g *Guard) Mount(ctx context.Context) {
	locked := false
	if g.deps.Store != nil {
		var err error
		locked, err = g.deps.Store.IsLocked(ctx, g.actorID)
		if err != nil {
			g.logger.Warn().Err(err).Msg("Failed to read lock state")
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mounted {
		return
	}
	g.mounted = true
	g.lastActivity = g.clock.Now()
	if locked {
		g.phase = PhaseLocked
	}

	ticker := g.clock.NewTicker(g.cfg.PollInterval)
	done := make(chan struct{})
	g.done = done
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				g.Poll()
			case <-done:
				return
			}
		}
	}()
	g.logger.Info().Str("phase", g.phase.String()).Msg("Idle guard mounted")
}

// Unmount stops the poll loop. It is idempotent.
func (g *Guard) Unmount() {
	g.mu.Lock()
	if !g.mounted {
		g.mu.Unlock()
		return
	}
	g.mounted = false
	close(g.done)
	g.done = nil
	g.mu.Unlock()

	g.wg.Wait()
	g.logger.Info().Msg("Idle guard unmounted")
}

// RecordActivity resets the idle clock for monitored events while not
// locked. It reports whether the event counted.
func (g *Guard) RecordActivity(ev InputEvent) bool {
	if !ev.Monitored() {
		return false
	}

	g.mu.Lock()
	if g.phase == PhaseLocked {
		g.mu.Unlock()
		return false
	}
	g.lastActivity = g.clock.Now()
	changed := g.phase != PhaseActive
	g.phase = PhaseActive
	g.mu.Unlock()

	if changed {
		g.phaseChanged(PhaseActive)
	}
	return true
}

// Poll recomputes the phase from idle time. It only moves forward.
func (g *Guard) Poll() {
	g.mu.Lock()
	idle := g.clock.Since(g.lastActivity)
	prev := g.phase
	next := prev
	switch {
	case prev == PhaseLocked:
	case idle >= g.cfg.LockThreshold:
		next = PhaseLocked
	case idle >= g.cfg.WarningThreshold && prev == PhaseActive:
		next = PhaseWarning
	}
	g.phase = next
	g.mu.Unlock()

	if next == prev {
		return
	}
	g.phaseChanged(next)
	if next == PhaseLocked {
		g.locked(idle)
	}
}

func (g *Guard) locked(idle time.Duration) {
	now := g.clock.Now()
	if g.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.deps.Store.SetLocked(ctx, g.actorID, now); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to persist lock state")
		}
		cancel()
	}
	g.deps.Audit.Log(g.actorID, audit.ActionSessionLocked, audit.EntitySession, g.actorID, map[string]any{
		"idleSeconds": int(idle.Seconds()),
	})
	g.logger.Info().Dur("idle", idle).Msg("Session locked")
	if g.cb.OnLock != nil {
		g.cb.OnLock()
	}
}

// Unlock re-authenticates the current clinician with password. On failure
// the guard stays LOCKED and the idle clock is kept. Unlocking a guard that
// is not locked is a no-op.
func (g *Guard) Unlock(ctx context.Context, password string) error {
	g.mu.Lock()
	phase := g.phase
	g.mu.Unlock()
	if phase != PhaseLocked {
		return nil
	}

	id, err := g.deps.Identity.CurrentIdentity(ctx)
	if err == nil {
		err = g.deps.Identity.VerifyCredentials(ctx, id.Email, password)
	}
	if err != nil {
		outcome, msg := "expired", MsgSessionExpired
		if errors.Is(err, identity.ErrInvalidCredentials) {
			outcome, msg = "invalid", MsgIncorrectPassword
		}
		g.mu.Lock()
		g.errText = msg
		g.mu.Unlock()

		g.metrics.RecordUnlockAttempt(outcome)
		g.deps.Audit.Log(g.actorID, audit.ActionUnlockFailed, audit.EntitySession, g.actorID, map[string]any{
			"reason": outcome,
		})
		g.logger.Warn().Err(err).Str("outcome", outcome).Msg("Unlock failed")
		return fmt.Errorf("unlock: %w", err)
	}

	g.mu.Lock()
	g.phase = PhaseActive
	g.lastActivity = g.clock.Now()
	g.errText = ""
	g.mu.Unlock()

	if g.deps.Store != nil {
		if err := g.deps.Store.ClearLock(ctx, g.actorID); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to clear lock state")
		}
	}
	g.metrics.RecordUnlockAttempt("success")
	g.deps.Audit.Log(g.actorID, audit.ActionSessionUnlocked, audit.EntitySession, g.actorID, nil)
	g.logger.Info().Msg("Session unlocked")

	g.phaseChanged(PhaseActive)
	if g.cb.OnUnlock != nil {
		g.cb.OnUnlock()
	}
	return nil
}

// Snapshot returns the current phase and timings.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	idle := g.clock.Since(g.lastActivity)
	countdown := 0
	if g.phase != PhaseLocked {
		countdown = int(math.Ceil((g.cfg.LockThreshold - idle).Seconds()))
		if countdown < 0 {
			countdown = 0
		}
	}
	return Snapshot{
		Phase:            g.phase,
		LastActivityAt:   g.lastActivity,
		Idle:             idle,
		CountdownSeconds: countdown,
		Error:            g.errText,
	}
}

// Phase returns the current phase.
func (g *Guard) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

func (g *Guard) phaseChanged(p Phase) {
	g.metrics.RecordIdlePhase(p.String())
	if g.cb.OnPhaseChange != nil {
		g.cb.OnPhaseChange(p)
	}
}
