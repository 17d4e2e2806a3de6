// Package sync owns the message timeline for the active conversation scope:
// optimistic local sends, push ingestion from the change bus, and periodic
// poll reconciliation against the store. Both inbound paths funnel through
// the same insert-if-absent timeline reducer, so they are free to race.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/chat"
)

// Store is the authoritative message backend as seen by the engine. Calls
// may fail; the engine recovers locally and never propagates the error to
// its callers.
type Store interface {
	GetMessages(ctx context.Context, userID, peerID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	MarkMessagesAsRead(ctx context.Context, senderID string) error
}

// DefaultPollEvery is the reconciliation poll interval.
const DefaultPollEvery = 3 * time.Second

// EngineOptions tunes the engine. Zero values fall back to the defaults.
type EngineOptions struct {
	PollEvery time.Duration
}

var (
	// ErrUnknownMessage is returned by Retry for an id not in the timeline.
	ErrUnknownMessage = errors.New("sync: unknown message id")
	// ErrNotRetryable is returned by Retry for a message that has not failed.
	ErrNotRetryable = errors.New("sync: message is not in failed state")
)

// Engine maintains one deduplicated, (createdAt, id)-ordered timeline per
// conversation scope with optimistic local echo.
//
// Scope switches bump a generation token; async completions (send acks, poll
// results) captured under an older generation are discarded instead of
// cancelled.
type Engine struct {
	localID   string
	pollEvery time.Duration

	store  Store
	bus    *bus.Bus
	clk    clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	scope    chat.Scope
	gen      int
	timeline *chat.Timeline

	cancel context.CancelFunc
}

// NewEngine creates an engine for the given local user, starting in the
// public room scope.
func NewEngine(localID string, opts EngineOptions, store Store, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Engine {
	if opts.PollEvery <= 0 {
		opts.PollEvery = DefaultPollEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		localID:   localID,
		pollEvery: opts.PollEvery,
		store:     store,
		bus:       b,
		clk:       clk,
		logger:    logger,
		timeline:  chat.NewTimeline(),
	}
}

// Start loads the current scope from the store, subscribes to chat.message
// push events, and begins the reconciliation poll.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.mu.Lock()
	gen, scope := e.gen, e.scope
	e.mu.Unlock()
	go e.load(ctx, gen, scope)

	ch, unsub := e.bus.Subscribe(bus.KindChatMessage, 256)
	poll := e.clk.Ticker(e.pollEvery)

	go func() {
		defer unsub()
		defer poll.Stop()
		for {
			select {
			case evt := <-ch:
				e.handlePush(evt)
			case <-poll.C:
				e.poll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine. In-flight sends are not cancelled; their results
// are discarded by the generation guard if the engine is restarted with a
// different scope.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Scope returns the active conversation scope.
func (e *Engine) Scope() chat.Scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// Messages returns a snapshot of the active timeline in (createdAt, id)
// order.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chat.Message, 0, e.timeline.Len())
	for _, m := range e.timeline.Messages() {
		out = append(out, *m)
	}
	return out
}

// SetScope switches the active conversation: the in-memory timeline is
// discarded and reloaded from the store. Results of operations started under
// the previous scope are dropped when they complete.
func (e *Engine) SetScope(ctx context.Context, s chat.Scope) {
	e.mu.Lock()
	e.gen++
	e.scope = s
	e.timeline = chat.NewTimeline()
	gen := e.gen
	e.mu.Unlock()

	e.notify()
	go e.load(ctx, gen, s)
}

// Send inserts an optimistic message into the timeline and issues the store
// create asynchronously. The returned message has status sending; the
// timeline entry later flips to sent or failed. Send never blocks on the
// network and never returns an error.
func (e *Engine) Send(ctx context.Context, content string, typ chat.Type, relatedID string) chat.Message {
	e.mu.Lock()
	m := chat.Message{
		ID:           uuid.NewString(),
		SenderID:     e.localID,
		RecipientID:  e.scope.PeerID,
		Content:      content,
		Type:         typ,
		RelatedID:    relatedID,
		CreatedAt:    e.clk.Now(),
		Status:       chat.StatusSending,
		IsOptimistic: true,
	}
	e.timeline.InsertIfAbsent(&m)
	gen := e.gen
	e.mu.Unlock()

	e.notify()
	go e.deliver(ctx, m, gen)
	return m
}

// Retry re-issues the store create for a failed message, reusing its
// original id and content. The upsert on id makes the retry idempotent.
func (e *Engine) Retry(ctx context.Context, id string) error {
	e.mu.Lock()
	m := e.timeline.Get(id)
	if m == nil {
		e.mu.Unlock()
		return ErrUnknownMessage
	}
	if m.Status != chat.StatusFailed {
		e.mu.Unlock()
		return ErrNotRetryable
	}
	e.timeline.MarkStatus(id, chat.StatusSending)
	cp := *m
	gen := e.gen
	e.mu.Unlock()

	e.notify()
	go e.deliver(ctx, cp, gen)
	return nil
}

// deliver performs the store create for an optimistic message and reconciles
// the outcome into the timeline, unless the scope changed in the meantime.
func (e *Engine) deliver(ctx context.Context, m chat.Message, gen int) {
	confirmed, err := e.store.SendMessage(ctx, m)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.logger.Debug("dropping stale send result", zap.String("msg_id", m.ID))
		return
	}
	if err != nil {
		e.timeline.MarkStatus(m.ID, chat.StatusFailed)
		e.mu.Unlock()
		e.logger.Warn("send failed", zap.Error(err), zap.String("msg_id", m.ID))
		e.notify()
		return
	}
	e.timeline.MarkStatus(m.ID, chat.StatusSent)
	e.mu.Unlock()

	e.notify()
	// Best-effort push so peers see the message before their next poll.
	e.bus.Broadcast(bus.KindChatMessage, confirmed)
}

// handlePush ingests a chat.message event from the change bus. Self-authored
// events are ignored (the send path already owns them); irrelevant scopes
// and duplicate ids are dropped.
func (e *Engine) handlePush(evt bus.Event) {
	m, ok := evt.Payload.(chat.Message)
	if !ok {
		return
	}
	if m.SenderID == e.localID || m.ID == "" {
		return
	}

	e.mu.Lock()
	if !e.scope.Contains(e.localID, &m) {
		e.mu.Unlock()
		return
	}
	m.Status = chat.StatusDelivered
	m.IsOptimistic = false
	inserted := e.timeline.InsertIfAbsent(&m)
	e.mu.Unlock()

	if inserted {
		e.notify()
		go e.markRead(m.SenderID)
	}
}

// poll fetches the scope's authoritative message set and inserts anything
// missing locally. It exists to recover from dropped pushes; running it
// concurrently with push handling is safe because both converge on the same
// reducer.
func (e *Engine) poll(ctx context.Context) {
	e.mu.Lock()
	gen, scope := e.gen, e.scope
	e.mu.Unlock()

	msgs, err := e.store.GetMessages(ctx, e.localID, scope.PeerID)
	if err != nil {
		e.logger.Debug("poll failed", zap.Error(err))
		return
	}

	changed := false
	readFrom := map[string]struct{}{}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	for i := range msgs {
		m := msgs[i]
		if e.timeline.Get(m.ID) != nil {
			// Known id: the store may still carry a newer status (e.g. a
			// read receipt); the monotonic guard makes this safe.
			if e.timeline.MarkStatus(m.ID, m.Status) {
				changed = true
			}
			continue
		}
		if m.SenderID != e.localID {
			m.Status = chat.StatusDelivered
			readFrom[m.SenderID] = struct{}{}
		}
		m.IsOptimistic = false
		if e.timeline.InsertIfAbsent(&m) {
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
	for sender := range readFrom {
		go e.markRead(sender)
	}
}

// load replaces an empty post-switch timeline with the store's view of the
// scope. A failed load is recovered by the next poll tick.
func (e *Engine) load(ctx context.Context, gen int, scope chat.Scope) {
	msgs, err := e.store.GetMessages(ctx, e.localID, scope.PeerID)
	if err != nil {
		e.logger.Warn("scope load failed", zap.Error(err))
		return
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	for i := range msgs {
		m := msgs[i]
		m.IsOptimistic = false
		e.timeline.InsertIfAbsent(&m)
	}
	e.mu.Unlock()
	e.notify()
}

// markRead tells the store the local user has seen this sender's messages.
// Fire-and-forget: failure is logged, never surfaced.
func (e *Engine) markRead(senderID string) {
	if err := e.store.MarkMessagesAsRead(context.Background(), senderID); err != nil {
		e.logger.Warn("mark read failed", zap.Error(err), zap.String("sender", senderID))
	}
}

// notify nudges UI subscribers that the timeline changed.
func (e *Engine) notify() {
	e.bus.Broadcast(bus.KindTimelineUpdated, nil)
}
