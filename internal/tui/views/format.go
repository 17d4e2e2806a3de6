package views

import (
	"time"

	"github.com/mfcarvalho/chatsync/internal/chat"
	"github.com/mfcarvalho/chatsync/internal/presence"
)

// statusGlyph renders a delivery state marker with tview color tags.
func statusGlyph(s chat.Status) string {
	switch s {
	case chat.StatusSending:
		return "[gray]…[-]"
	case chat.StatusSent:
		return "✓"
	case chat.StatusDelivered:
		return "✓✓"
	case chat.StatusRead:
		return "[blue]✓✓[-]"
	case chat.StatusFailed:
		return "[red]✗[-]"
	}
	return ""
}

// PresenceGlyph renders an availability marker with tview color tags.
func PresenceGlyph(s presence.Status) string {
	switch s {
	case presence.StatusOnline:
		return "[green]●[-]"
	case presence.StatusAway:
		return "[yellow]◐[-]"
	case presence.StatusBusy:
		return "[red]■[-]"
	}
	return "[gray]○[-]"
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}
