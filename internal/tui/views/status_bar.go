package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/mfcarvalho/chatsync/internal/presence"
)

// StatusBar displays profile, own availability and relay state.
type StatusBar struct {
	*tview.TextView
	profile   string
	self      presence.Status
	connected bool
	flash     string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, self: presence.StatusOffline}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetSelf updates the local availability display.
func (sb *StatusBar) SetSelf(s presence.Status) {
	sb.self = s
	sb.render()
}

// SetConnected updates the relay indicator.
func (sb *StatusBar) SetConnected(connected bool) {
	sb.connected = connected
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	relay := "[red]offline[-]"
	if sb.connected {
		relay = "[green]relay[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s %s | %s | q:quit Ctrl-B:busy Ctrl-R:retry",
		sb.profile, PresenceGlyph(sb.self), sb.self, relay)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
