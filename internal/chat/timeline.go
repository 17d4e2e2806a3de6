package chat

import "sort"

// Timeline is the ordered, deduplicated message list for one conversation
// scope. All mutation funnels through InsertIfAbsent and MarkStatus so the
// two invariants hold after every operation: at most one entry per id, and
// ascending (CreatedAt, ID) order.
//
// Timeline is not safe for concurrent use; the owning engine serializes
// access.
type Timeline struct {
	msgs  []*Message
	index map[string]*Message
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]*Message)}
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	return len(t.msgs)
}

// Get returns the message with the given id, or nil.
func (t *Timeline) Get(id string) *Message {
	return t.index[id]
}

// Messages returns the timeline in (CreatedAt, ID) order. The returned slice
// is shared; callers must not mutate it.
func (t *Timeline) Messages() []*Message {
	return t.msgs
}

// InsertIfAbsent adds m unless a message with the same id is already present.
// Returns true if the message was inserted. The existing entry, if any, is
// left untouched: a duplicate delivery never downgrades local state.
func (t *Timeline) InsertIfAbsent(m *Message) bool {
	if _, ok := t.index[m.ID]; ok {
		return false
	}
	cp := *m
	t.index[cp.ID] = &cp
	t.msgs = append(t.msgs, &cp)
	t.resort()
	return true
}

// MarkStatus transitions the status of the message with the given id.
// Transitions obey the partial order sending < sent < delivered < read:
// a lower or equal status never overwrites a higher one. Failed is only
// reachable from sending, and only sending is reachable from failed (retry).
// Returns true if the status changed.
func (t *Timeline) MarkStatus(id string, to Status) bool {
	m, ok := t.index[id]
	if !ok {
		return false
	}
	if !allowedTransition(m.Status, to) {
		return false
	}
	m.Status = to
	if to != StatusSending && to != StatusFailed {
		m.IsOptimistic = false
	}
	return true
}

func allowedTransition(from, to Status) bool {
	if to == StatusFailed {
		return from == StatusSending
	}
	if from == StatusFailed {
		return to == StatusSending
	}
	fr, ok := from.Rank()
	if !ok {
		return false
	}
	tr, ok := to.Rank()
	if !ok {
		return false
	}
	return tr > fr
}

// IDs returns the set of message ids currently present. Used by the poll
// reconciler to diff remote state against local.
func (t *Timeline) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(t.index))
	for id := range t.index {
		ids[id] = struct{}{}
	}
	return ids
}

func (t *Timeline) resort() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].Before(t.msgs[j])
	})
}
