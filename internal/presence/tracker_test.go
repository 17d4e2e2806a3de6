package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/kv"
)

func testTracker(t *testing.T) (*Tracker, *bus.Bus, *kv.Memory, *clock.Mock) {
	t.Helper()
	b := bus.New()
	snaps := kv.NewMemory()
	clk := clock.NewMock()
	tr := NewTracker("alice", TrackerOptions{}, b, snaps, clk, nil)
	t.Cleanup(tr.Stop)
	return tr, b, snaps, clk
}

func waitForKind(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

func TestStartEntersOnlineAndBroadcasts(t *testing.T) {
	tr, b, _, _ := testTracker(t)
	ch, unsub := b.Subscribe("presence.", 16)
	defer unsub()

	tr.Start()

	if got := tr.Self().Status; got != StatusOnline {
		t.Errorf("status = %s, want online", got)
	}
	evt := waitForKind(t, ch, bus.KindPresenceUpdate)
	rec, ok := evt.Payload.(Record)
	if !ok {
		t.Fatalf("payload type = %T, want Record", evt.Payload)
	}
	if rec.UserID != "alice" || rec.Status != StatusOnline {
		t.Errorf("record = %+v, want alice online", rec)
	}
}

func TestIdleTransitionAtSixtySeconds(t *testing.T) {
	tr, _, _, clk := testTracker(t)
	tr.Start()

	clk.Add(59 * time.Second)
	if got := tr.Self().Status; got != StatusOnline {
		t.Errorf("status at 59s = %s, want online", got)
	}

	clk.Add(2 * time.Second)
	if got := tr.Self().Status; got != StatusAway {
		t.Errorf("status at 61s = %s, want away", got)
	}
}

func TestActivityResumesAndResetsIdleTimer(t *testing.T) {
	tr, _, _, clk := testTracker(t)
	tr.Start()

	clk.Add(61 * time.Second)
	if got := tr.Self().Status; got != StatusAway {
		t.Fatalf("status = %s, want away", got)
	}

	tr.Activity()
	if got := tr.Self().Status; got != StatusOnline {
		t.Errorf("status after activity = %s, want online", got)
	}

	// The idle timer restarts from the activity signal.
	clk.Add(59 * time.Second)
	if got := tr.Self().Status; got != StatusOnline {
		t.Errorf("status 59s after activity = %s, want online", got)
	}
	clk.Add(2 * time.Second)
	if got := tr.Self().Status; got != StatusAway {
		t.Errorf("status 61s after activity = %s, want away", got)
	}
}

func TestActivityWhileOnlineKeepsTimerFresh(t *testing.T) {
	tr, _, _, clk := testTracker(t)
	tr.Start()

	// Keep signalling every 30s; the user must never go away.
	for i := 0; i < 5; i++ {
		clk.Add(30 * time.Second)
		tr.Activity()
	}
	if got := tr.Self().Status; got != StatusOnline {
		t.Errorf("status = %s, want online after continuous activity", got)
	}
}

func TestHiddenBypassesIdleTimer(t *testing.T) {
	tr, _, _, clk := testTracker(t)
	tr.Start()

	clk.Add(5 * time.Second)
	tr.Hidden()
	if got := tr.Self().Status; got != StatusAway {
		t.Errorf("status after hide = %s, want away", got)
	}

	tr.Visible()
	if got := tr.Self().Status; got != StatusOnline {
		t.Errorf("status after show = %s, want online", got)
	}
}

func TestExplicitBusyIsSticky(t *testing.T) {
	tr, _, _, clk := testTracker(t)
	tr.Start()

	tr.SetStatus(StatusBusy, "in a meeting")
	clk.Add(2 * time.Minute)
	if got := tr.Self().Status; got != StatusBusy {
		t.Errorf("status = %s, want busy (idle timer only demotes online)", got)
	}
	tr.Hidden()
	if got := tr.Self().Status; got != StatusBusy {
		t.Errorf("status after hide = %s, want busy", got)
	}
	if got := tr.Self().CustomStatus; got != "in a meeting" {
		t.Errorf("custom status = %q", got)
	}
}

func TestHeartbeatWhileOnline(t *testing.T) {
	tr, b, _, clk := testTracker(t)
	ch, unsub := b.Subscribe("presence.", 16)
	defer unsub()

	tr.Start()
	clk.Add(30 * time.Second)

	evt := waitForKind(t, ch, bus.KindPresenceHeartbeat)
	hb, ok := evt.Payload.(Heartbeat)
	if !ok {
		t.Fatalf("payload type = %T, want Heartbeat", evt.Payload)
	}
	if hb.UserID != "alice" {
		t.Errorf("heartbeat user = %q, want alice", hb.UserID)
	}
}

func TestNoHeartbeatWhileAway(t *testing.T) {
	tr, b, _, clk := testTracker(t)
	tr.Start()
	tr.Hidden()

	ch, unsub := b.Subscribe(bus.KindPresenceHeartbeat, 16)
	defer unsub()

	clk.Add(90 * time.Second)
	select {
	case evt := <-ch:
		t.Errorf("unexpected heartbeat while away: %v", evt)
	case <-time.After(100 * time.Millisecond):
		// Expected: heartbeats are suppressed outside online.
	}
}

func TestStopBroadcastsOffline(t *testing.T) {
	tr, b, _, _ := testTracker(t)
	tr.Start()

	ch, unsub := b.Subscribe("presence.", 16)
	defer unsub()
	tr.Stop()

	evt := waitForKind(t, ch, bus.KindPresenceUpdate)
	rec := evt.Payload.(Record)
	if rec.Status != StatusOffline {
		t.Errorf("final status = %s, want offline", rec.Status)
	}

	// Signals after teardown must not resurrect the tracker.
	tr.Activity()
	if got := tr.Self().Status; got != StatusOffline {
		t.Errorf("status after post-stop activity = %s, want offline", got)
	}
}

func TestSnapshotPersistedOnTransition(t *testing.T) {
	tr, _, snaps, _ := testTracker(t)
	tr.Start()

	raw, err := snaps.Get(SnapshotKey)
	if err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if rec.UserID != "alice" || rec.Status != StatusOnline {
		t.Errorf("snapshot = %+v, want alice online", rec)
	}
}

func TestRestoreSnapshotDefaultsOnGarbage(t *testing.T) {
	snaps := kv.NewMemory()

	if rec := RestoreSnapshot(snaps, "alice"); rec.Status != StatusOffline {
		t.Errorf("missing snapshot: status = %s, want offline", rec.Status)
	}

	_ = snaps.Set(SnapshotKey, "{not json")
	if rec := RestoreSnapshot(snaps, "alice"); rec.Status != StatusOffline {
		t.Errorf("malformed snapshot: status = %s, want offline", rec.Status)
	}

	_ = snaps.Set(SnapshotKey, `{"userId":"alice","status":"teleported"}`)
	if rec := RestoreSnapshot(snaps, "alice"); rec.Status != StatusOffline {
		t.Errorf("unknown status: got %s, want offline default", rec.Status)
	}

	_ = snaps.Set(SnapshotKey, `{"userId":"alice","status":"busy","customStatus":"brb"}`)
	rec := RestoreSnapshot(snaps, "alice")
	if rec.Status != StatusBusy || rec.CustomStatus != "brb" {
		t.Errorf("valid snapshot not restored: %+v", rec)
	}
}
