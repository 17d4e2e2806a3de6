// Package relay bridges the in-process bus to a websocket relay server, which
// is the wire form of the change bus: best-effort, at-most-once, no ordering
// guarantee across clients. Locally-authored presence and chat events are
// forwarded out; inbound envelopes are decoded and republished on the local
// bus for the registry and sync engine to consume.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/chat"
	"github.com/mfcarvalho/chatsync/internal/presence"
)

// Envelope is the JSON wire frame for one change-bus event.
type Envelope struct {
	Kind    string          `json:"kind"`
	Sender  string          `json:"sender"`
	SentAt  time.Time       `json:"sentAt"`
	Payload json.RawMessage `json:"payload"`
}

// Reconnect backoff bounds.
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Client is the websocket change-bus client for one local user.
type Client struct {
	url     string
	localID string
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewClient creates a relay client. url is the ws:// or wss:// endpoint.
func NewClient(url, localID string, b *bus.Bus, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{url: url, localID: localID, bus: b, logger: logger}
}

// Start connects in the background and keeps reconnecting with capped
// exponential backoff until Stop.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop disconnects and stops reconnecting.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = initialBackoff
		c.logger.Info("relay connected", zap.String("url", c.url))
		c.bus.Broadcast(bus.KindRelayConnected, nil)

		err = c.session(ctx, conn)
		c.bus.Broadcast(bus.KindRelayDisconnected, nil)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("relay session ended", zap.Error(err))
	}
}

// session pumps events both ways over one connection until either side fails.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	defer func() { _ = conn.Close() }()

	outPresence, unsubP := c.bus.Subscribe("presence.", 256)
	defer unsubP()
	outChat, unsubC := c.bus.Subscribe(bus.KindChatMessage, 256)
	defer unsubC()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readPump(conn) }()

	for {
		select {
		case evt := <-outPresence:
			if err := c.forward(conn, evt); err != nil {
				return err
			}
		case evt := <-outChat:
			if err := c.forward(conn, evt); err != nil {
				return err
			}
		case err := <-readErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forward writes a locally-authored event to the relay. Events that did not
// originate from this client (remote events republished on the local bus)
// are skipped to avoid echo loops.
func (c *Client) forward(conn *websocket.Conn, evt bus.Event) error {
	if !c.authoredLocally(evt) {
		return nil
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		c.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
		return nil
	}
	env := Envelope{
		Kind:    evt.Kind,
		Sender:  c.localID,
		SentAt:  evt.Timestamp,
		Payload: payload,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(env)
}

func (c *Client) authoredLocally(evt bus.Event) bool {
	switch p := evt.Payload.(type) {
	case presence.Record:
		return p.UserID == c.localID
	case presence.Heartbeat:
		return p.UserID == c.localID
	case chat.Message:
		return p.SenderID == c.localID
	}
	return false
}

// readPump decodes inbound envelopes onto the local bus. Malformed frames
// are discarded; only transport errors end the pump.
func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("discarding malformed relay frame", zap.Error(err))
			continue
		}
		// The relay may loop our own events back.
		if env.Sender == c.localID {
			continue
		}

		payload, ok := c.decode(env)
		if !ok {
			continue
		}
		c.bus.Publish(bus.Event{Kind: env.Kind, Timestamp: env.SentAt, Payload: payload})
	}
}

// decode maps an envelope to its typed payload. Unknown kinds and payloads
// that fail validation are discarded rather than crashing the bridge.
func (c *Client) decode(env Envelope) (any, bool) {
	switch env.Kind {
	case bus.KindPresenceUpdate:
		var rec presence.Record
		if err := json.Unmarshal(env.Payload, &rec); err != nil || rec.UserID == "" || !rec.Status.Valid() {
			c.logger.Debug("discarding malformed presence update", zap.String("sender", env.Sender))
			return nil, false
		}
		return rec, true
	case bus.KindPresenceHeartbeat:
		var hb presence.Heartbeat
		if err := json.Unmarshal(env.Payload, &hb); err != nil || hb.UserID == "" {
			c.logger.Debug("discarding malformed heartbeat", zap.String("sender", env.Sender))
			return nil, false
		}
		return hb, true
	case bus.KindChatMessage:
		var m chat.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil || m.ID == "" || m.SenderID == "" {
			c.logger.Debug("discarding malformed chat message", zap.String("sender", env.Sender))
			return nil, false
		}
		if !m.Status.Valid() {
			m.Status = chat.StatusSent
		}
		return m, true
	default:
		return nil, false
	}
}
