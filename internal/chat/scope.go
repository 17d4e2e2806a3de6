package chat

// Scope is the addressing context of a conversation: the shared public room
// (zero value) or a 1:1 pairing with a specific peer.
type Scope struct {
	PeerID string
}

// Public is the shared room scope.
var Public = Scope{}

// IsPublic reports whether s is the shared room.
func (s Scope) IsPublic() bool {
	return s.PeerID == ""
}

// Contains reports whether a message belongs to this scope from the point of
// view of the given local user. Unaddressed messages belong to the public
// room; addressed messages belong to the pairing of their sender and
// recipient.
func (s Scope) Contains(localID string, m *Message) bool {
	if s.IsPublic() {
		return m.RecipientID == ""
	}
	if m.RecipientID == "" {
		return false
	}
	fromPeer := m.SenderID == s.PeerID && m.RecipientID == localID
	toPeer := m.SenderID == localID && m.RecipientID == s.PeerID
	return fromPeer || toPeer
}
