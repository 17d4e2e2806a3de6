package views

import (
	"github.com/rivo/tview"
)

// RosterEntry is one row of the peer roster. An empty ID means the public
// room.
type RosterEntry struct {
	ID     string
	Name   string
	Glyph  string
	Detail string
}

// Roster is the peer list on the left of the screen.
type Roster struct {
	*tview.Table
	entries    []RosterEntry
	selectedFn func() (int, int)
}

// NewRoster creates the roster table.
func NewRoster() *Roster {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Peers ")

	r := &Roster{Table: table}
	r.selectedFn = table.GetSelection
	return r
}

// Update refreshes the roster rows.
func (r *Roster) Update(entries []RosterEntry) {
	row, _ := r.selectedFn()
	r.entries = entries
	r.Clear()

	for i, e := range entries {
		r.SetCell(i, 0, tview.NewTableCell(" "+e.Glyph))
		r.SetCell(i, 1, tview.NewTableCell(e.Name).SetMaxWidth(20).SetExpansion(1))
		r.SetCell(i, 2, tview.NewTableCell("[gray]"+e.Detail+"[-]").SetMaxWidth(20))
	}

	if row >= 0 && row < len(entries) {
		r.Select(row, 0)
	}
}

// Selected returns the entry under the cursor.
func (r *Roster) Selected() (RosterEntry, bool) {
	row, _ := r.selectedFn()
	if row >= 0 && row < len(r.entries) {
		return r.entries[row], true
	}
	return RosterEntry{}, false
}
