package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/mfcarvalho/chatsync/internal/chat"
)

// Thread displays the message timeline for the active scope.
type Thread struct {
	*tview.TextView
}

// NewThread creates the timeline view.
func NewThread() *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Public Room ")

	return &Thread{TextView: tv}
}

// SetScopeName updates the title with the active scope.
func (t *Thread) SetScopeName(name string) {
	t.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the timeline. names maps user ids to display names;
// unknown senders fall back to their id.
func (t *Thread) Update(msgs []chat.Message, localID string, names map[string]string) {
	t.Clear()

	for _, m := range msgs {
		sender := m.SenderID
		if n, ok := names[m.SenderID]; ok && n != "" {
			sender = n
		}
		if m.SenderID == localID {
			sender = "You"
		}

		marker := ""
		if m.SenderID == localID {
			marker = " " + statusGlyph(m.Status)
			if m.Status == chat.StatusFailed {
				marker += " [red](Ctrl-R to retry)[-]"
			}
		}

		body := tview.Escape(m.Content)
		if m.Type != chat.TypeText {
			body = fmt.Sprintf("[%s] %s", m.Type, body)
		}

		fmt.Fprintf(t, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			tview.Escape(sender), formatTimestamp(m.CreatedAt), marker, body)
	}

	t.ScrollToEnd()
}
