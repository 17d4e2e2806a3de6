package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/chat"
	"github.com/mfcarvalho/chatsync/internal/presence"
)

// testRelay runs a single-connection websocket server and hands the accepted
// connection to the test.
func testRelay(t *testing.T) (url string, conns <-chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ch := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ch <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ch
}

func startClient(t *testing.T, url string, b *bus.Bus) *Client {
	t.Helper()
	c := NewClient(url, "alice", b, nil)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("server read: %v", err)
	}
	return env
}

func TestForwardsLocallyAuthoredEvents(t *testing.T) {
	url, conns := testRelay(t)
	b := bus.New()
	startClient(t, url, b)
	conn := <-conns

	b.Broadcast(bus.KindPresenceUpdate, presence.Record{
		UserID: "alice", Status: presence.StatusOnline, LastSeen: time.Now(),
	})

	env := readEnvelope(t, conn)
	if env.Kind != bus.KindPresenceUpdate || env.Sender != "alice" {
		t.Errorf("envelope = %+v, want presence.update from alice", env)
	}
	var rec presence.Record
	if err := json.Unmarshal(env.Payload, &rec); err != nil || rec.Status != presence.StatusOnline {
		t.Errorf("payload = %s (err %v), want online record", env.Payload, err)
	}
}

func TestDoesNotForwardRemoteAuthoredEvents(t *testing.T) {
	url, conns := testRelay(t)
	b := bus.New()
	startClient(t, url, b)
	conn := <-conns

	// A remote event republished on the local bus must not echo back out.
	b.Broadcast(bus.KindChatMessage, chat.Message{ID: "m1", SenderID: "bob", Content: "yo"})
	// A local one right after should be the first thing the server sees.
	b.Broadcast(bus.KindChatMessage, chat.Message{ID: "m2", SenderID: "alice", Content: "hi"})

	env := readEnvelope(t, conn)
	if env.Kind != bus.KindChatMessage {
		t.Fatalf("kind = %s, want chat.message", env.Kind)
	}
	var m chat.Message
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		t.Fatal(err)
	}
	if m.ID != "m2" {
		t.Errorf("forwarded id = %s, want m2 (bob's event must be filtered)", m.ID)
	}
}

func TestInboundEnvelopeRepublishedLocally(t *testing.T) {
	url, conns := testRelay(t)
	b := bus.New()
	ch, unsub := b.Subscribe("chat.", 16)
	defer unsub()
	startClient(t, url, b)
	conn := <-conns

	payload, _ := json.Marshal(chat.Message{
		ID: "r1", SenderID: "bob", Content: "hello", Type: chat.TypeText,
		CreatedAt: time.UnixMilli(10), Status: chat.StatusSent,
	})
	err := conn.WriteJSON(Envelope{
		Kind: bus.KindChatMessage, Sender: "bob", SentAt: time.Now(), Payload: payload,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		m, ok := evt.Payload.(chat.Message)
		if !ok {
			t.Fatalf("payload type = %T, want chat.Message", evt.Payload)
		}
		if m.ID != "r1" || m.SenderID != "bob" {
			t.Errorf("message = %+v, want r1 from bob", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound envelope never reached the local bus")
	}
}

func TestLoopbackAndMalformedFramesDiscarded(t *testing.T) {
	url, conns := testRelay(t)
	b := bus.New()
	ch, unsub := b.Subscribe("chat.", 16)
	defer unsub()
	startClient(t, url, b)
	conn := <-conns

	// Our own event looped back by the relay.
	selfPayload, _ := json.Marshal(chat.Message{ID: "self", SenderID: "alice"})
	_ = conn.WriteJSON(Envelope{Kind: bus.KindChatMessage, Sender: "alice", Payload: selfPayload})
	// Not JSON at all.
	_ = conn.WriteMessage(websocket.TextMessage, []byte("{broken"))
	// Valid envelope, garbage payload.
	_ = conn.WriteJSON(Envelope{Kind: bus.KindChatMessage, Sender: "bob", Payload: json.RawMessage(`"nope"`)})
	// Finally a good one; the bridge must still be alive.
	goodPayload, _ := json.Marshal(chat.Message{ID: "good", SenderID: "bob", Content: "ok", Type: chat.TypeText})
	_ = conn.WriteJSON(Envelope{Kind: bus.KindChatMessage, Sender: "bob", Payload: goodPayload})

	select {
	case evt := <-ch:
		m := evt.Payload.(chat.Message)
		if m.ID != "good" {
			t.Errorf("got %s, want good (others discarded)", m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge died on malformed input")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	url, conns := testRelay(t)
	b := bus.New()
	relayCh, unsub := b.Subscribe("relay.", 16)
	defer unsub()
	startClient(t, url, b)

	conn := <-conns
	waitForKind(t, relayCh, bus.KindRelayConnected)

	_ = conn.Close()
	waitForKind(t, relayCh, bus.KindRelayDisconnected)
	// Backoff starts at one second; the second accept proves the redial.
	select {
	case <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("client never reconnected")
	}
}

func waitForKind(t *testing.T, ch <-chan bus.Event, kind string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}
