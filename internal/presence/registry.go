package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
)

// Default registry tuning, overridable via RegistryOptions.
const (
	DefaultSweepEvery  = 60 * time.Second
	DefaultExpireAfter = 5 * time.Minute
)

// RegistryOptions tunes the registry's staleness handling. Zero values fall
// back to the defaults.
type RegistryOptions struct {
	SweepEvery  time.Duration
	ExpireAfter time.Duration
}

// Registry maintains best-effort knowledge of peers' presence from
// presence.update and presence.heartbeat bus events. Records are never
// deleted, only forced offline by the periodic staleness sweep.
type Registry struct {
	localID     string
	sweepEvery  time.Duration
	expireAfter time.Duration

	bus    *bus.Bus
	clk    clock.Clock
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record

	cancel context.CancelFunc
}

// NewRegistry creates a registry for peers of the given local user.
func NewRegistry(localID string, opts RegistryOptions, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Registry {
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultSweepEvery
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = DefaultExpireAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		localID:     localID,
		sweepEvery:  opts.SweepEvery,
		expireAfter: opts.ExpireAfter,
		bus:         b,
		clk:         clk,
		logger:      logger,
		records:     make(map[string]*Record),
	}
}

// Start subscribes to presence events and begins the staleness sweep.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("presence.", 256)
	sweep := r.clk.Ticker(r.sweepEvery)

	go func() {
		defer unsub()
		defer sweep.Stop()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(evt)
			case <-sweep.C:
				r.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the registry.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Registry) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPresenceUpdate:
		rec, ok := evt.Payload.(Record)
		if !ok {
			return
		}
		r.ApplyUpdate(rec)
	case bus.KindPresenceHeartbeat:
		hb, ok := evt.Payload.(Heartbeat)
		if !ok {
			return
		}
		r.ApplyHeartbeat(hb)
	}
}

// ApplyUpdate upserts a peer's record from a full presence.update. Updates
// bearing the local user's own id are never applied. lastSeen is kept
// monotonically non-decreasing except on an explicit offline transition,
// which is allowed to carry the peer's final timestamp.
func (r *Registry) ApplyUpdate(rec Record) {
	if rec.UserID == "" || rec.UserID == r.localID {
		return
	}
	if !rec.Status.Valid() {
		r.logger.Debug("discarding presence update with unknown status",
			zap.String("user", rec.UserID), zap.String("status", string(rec.Status)))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[rec.UserID]
	if !ok {
		cp := rec
		r.records[rec.UserID] = &cp
		return
	}
	cur.Status = rec.Status
	cur.CustomStatus = rec.CustomStatus
	if rec.Status == StatusOffline || rec.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = rec.LastSeen
	}
}

// ApplyHeartbeat refreshes a known peer: lastSeen advances to the heartbeat
// timestamp and status is forced back to online. Heartbeats for unknown
// peers are ignored; only a full update creates a record.
func (r *Registry) ApplyHeartbeat(hb Heartbeat) {
	if hb.UserID == r.localID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[hb.UserID]
	if !ok {
		return
	}
	if hb.Timestamp.After(cur.LastSeen) {
		cur.LastSeen = hb.Timestamp
	}
	cur.Status = StatusOnline
}

// Sweep forces records whose lastSeen is older than the expiry to offline.
// lastSeen is preserved and the record kept for last-seen display.
func (r *Registry) Sweep() {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Status != StatusOffline && now.Sub(rec.LastSeen) > r.expireAfter {
			rec.Status = StatusOffline
		}
	}
}

// Get returns a copy of the peer's record, if known.
func (r *Registry) Get(peerID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[peerID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsOnline reports whether the peer counts as reachable: online or away.
func (r *Registry) IsOnline(peerID string) bool {
	rec, ok := r.Get(peerID)
	return ok && (rec.Status == StatusOnline || rec.Status == StatusAway)
}

// LastSeenText returns a human-readable availability string for the peer:
// "online" while online, otherwise a relative last-seen time.
func (r *Registry) LastSeenText(peerID string) string {
	rec, ok := r.Get(peerID)
	if !ok {
		return "offline"
	}
	if rec.Status == StatusOnline {
		return "online"
	}
	if rec.LastSeen.IsZero() {
		return "offline"
	}

	since := r.clk.Now().Sub(rec.LastSeen)
	switch {
	case since < time.Minute:
		return "last seen just now"
	case since < time.Hour:
		return fmt.Sprintf("last seen %dm ago", int(since.Minutes()))
	case since < 24*time.Hour:
		return fmt.Sprintf("last seen %dh ago", int(since.Hours()))
	default:
		return "last seen " + rec.LastSeen.Format("Jan 2")
	}
}

// Peers returns a copy of all known records.
func (r *Registry) Peers() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}
