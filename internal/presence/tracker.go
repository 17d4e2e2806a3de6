package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/kv"
)

// Default timer intervals, overridable via TrackerOptions.
const (
	DefaultHeartbeatEvery = 30 * time.Second
	DefaultIdleAfter      = 60 * time.Second
)

// TrackerOptions tunes the tracker's timers. Zero values fall back to the
// defaults.
type TrackerOptions struct {
	HeartbeatEvery time.Duration
	IdleAfter      time.Duration
}

// Tracker owns the local user's presence state machine. Activity signals and
// timers drive transitions between online, away, busy and offline; every
// transition is persisted as a KV snapshot and broadcast on the bus as a
// presence.update event. Broadcast and persist failures are advisory only:
// they are logged and swallowed, never surfaced to callers.
type Tracker struct {
	userID         string
	heartbeatEvery time.Duration
	idleAfter      time.Duration

	bus    *bus.Bus
	snaps  kv.Store
	clk    clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	status  Status
	custom  string
	last    time.Time
	idle    *clock.Timer
	hb      *clock.Ticker
	stopped chan struct{}
	started bool
}

// NewTracker creates a tracker for the given local user.
func NewTracker(userID string, opts TrackerOptions, b *bus.Bus, snaps kv.Store, clk clock.Clock, logger *zap.Logger) *Tracker {
	if opts.HeartbeatEvery <= 0 {
		opts.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = DefaultIdleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		userID:         userID,
		heartbeatEvery: opts.HeartbeatEvery,
		idleAfter:      opts.IdleAfter,
		bus:            b,
		snaps:          snaps,
		clk:            clk,
		logger:         logger,
		status:         StatusOffline,
	}
}

// Start enters the online state, broadcasts it, and arms the heartbeat and
// idle timers. Calling Start on a started tracker is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.stopped = make(chan struct{})

	t.transitionLocked(StatusOnline)
	t.idle = t.clk.AfterFunc(t.idleAfter, t.onIdle)

	t.hb = t.clk.Ticker(t.heartbeatEvery)
	go t.heartbeatLoop(t.hb, t.stopped)
}

// Stop broadcasts a final offline presence and cancels all timers. The
// tracker must not be reused after Stop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	t.hb.Stop()
	t.idle.Stop()
	close(t.stopped)
	t.transitionLocked(StatusOffline)
}

// Activity records a qualifying activity signal (key press, pointer, focus
// gain, page becoming visible). It rearms the idle timer and, if the user
// was away or offline, transitions back to online.
func (t *Tracker) Activity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.idle.Reset(t.idleAfter)
	if t.status == StatusAway || t.status == StatusOffline {
		t.transitionLocked(StatusOnline)
	}
}

// Hidden records the page or terminal going out of view: an online user is
// moved to away immediately, bypassing the idle timer. Explicitly set
// statuses (busy) are left alone.
func (t *Tracker) Hidden() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.status != StatusOnline {
		return
	}
	t.transitionLocked(StatusAway)
}

// Visible records the page coming back into view; it counts as activity.
func (t *Tracker) Visible() {
	t.Activity()
}

// SetStatus applies a user-driven status change (e.g. busy), bypassing
// activity inference, and broadcasts immediately. The idle timer keeps
// running but only ever demotes the online state.
func (t *Tracker) SetStatus(s Status, custom string) {
	if !s.Valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.custom = custom
	if s == StatusOnline {
		t.idle.Reset(t.idleAfter)
	}
	t.transitionLocked(s)
}

// Self returns the local user's current presence record.
func (t *Tracker) Self() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked()
}

func (t *Tracker) onIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	// The idle timeout only demotes online; busy and away are left alone.
	if !t.started || t.status != StatusOnline {
		return
	}
	t.transitionLocked(StatusAway)
}

func (t *Tracker) heartbeatLoop(hb *clock.Ticker, stopped chan struct{}) {
	for {
		select {
		case ts := <-hb.C:
			t.mu.Lock()
			online := t.started && t.status == StatusOnline
			t.mu.Unlock()
			if online {
				t.bus.Broadcast(bus.KindPresenceHeartbeat, Heartbeat{
					UserID:    t.userID,
					Timestamp: ts,
				})
			}
		case <-stopped:
			return
		}
	}
}

// transitionLocked moves to the given status, stamps lastSeen, persists the
// snapshot and broadcasts the full record. Callers hold t.mu.
func (t *Tracker) transitionLocked(to Status) {
	t.status = to
	t.last = t.clk.Now()
	rec := t.recordLocked()

	if data, err := json.Marshal(rec); err == nil {
		if err := t.snaps.Set(SnapshotKey, string(data)); err != nil {
			t.logger.Warn("presence snapshot not persisted", zap.Error(err))
		}
	}

	t.bus.Broadcast(bus.KindPresenceUpdate, rec)
}

func (t *Tracker) recordLocked() Record {
	return Record{
		UserID:       t.userID,
		Status:       t.status,
		LastSeen:     t.last,
		CustomStatus: t.custom,
	}
}

// RestoreSnapshot reads the persisted presence snapshot for display before
// the first broadcast. A missing or malformed snapshot yields an offline
// default rather than an error.
func RestoreSnapshot(snaps kv.Store, userID string) Record {
	fallback := Record{UserID: userID, Status: StatusOffline}
	raw, err := snaps.Get(SnapshotKey)
	if err != nil {
		return fallback
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.UserID != userID || !rec.Status.Valid() {
		return fallback
	}
	return rec
}
