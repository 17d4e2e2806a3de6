// Package tui is the terminal client. It runs against an in-process sync
// engine and presence tracker, redrawing on bus events.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/chat"
	"github.com/mfcarvalho/chatsync/internal/presence"
	"github.com/mfcarvalho/chatsync/internal/store"
	intsync "github.com/mfcarvalho/chatsync/internal/sync"
	"github.com/mfcarvalho/chatsync/internal/tui/views"
)

const publicRoomName = "Public Room"

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	roster    *views.Roster
	thread    *views.Thread
	composer  *views.Composer
	statusBar *views.StatusBar

	engine   *intsync.Engine
	tracker  *presence.Tracker
	registry *presence.Registry
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger

	localID string
	names   map[string]string
	busy    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(profileName, localID string, engine *intsync.Engine, tracker *presence.Tracker, registry *presence.Registry, db *store.DB, b *bus.Bus, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		roster:    views.NewRoster(),
		thread:    views.NewThread(),
		composer:  views.NewComposer(),
		statusBar: views.NewStatusBar(),
		engine:    engine,
		tracker:   tracker,
		registry:  registry,
		db:        db,
		bus:       b,
		logger:    logger,
		localID:   localID,
		names:     map[string]string{},
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.roster.SetSelectedFunc(func(row, col int) {
		entry, ok := a.roster.Selected()
		if !ok {
			return
		}
		a.openScope(entry)
	})

	a.composer.SetOnSend(func(text string) {
		a.engine.Send(a.ctx, text, chat.TypeText, "")
		a.redrawThread()
	})
}

func (a *App) setupLayout() {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	main := tview.NewFlex().
		AddItem(a.roster, 32, 0, true).
		AddItem(right, 0, 1, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Any keypress counts as user activity.
		a.tracker.Activity()

		switch event.Key() {
		case tcell.KeyCtrlB:
			a.toggleBusy()
			return nil
		case tcell.KeyCtrlR:
			a.retryLastFailed()
			return nil
		case tcell.KeyEscape:
			a.app.SetFocus(a.roster)
			return nil
		}

		// Let the composer handle everything else while focused.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.app.Stop()
				return nil
			case 'i':
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
		}

		return event
	})
}

func (a *App) openScope(entry views.RosterEntry) {
	scope := chat.Public
	name := publicRoomName
	if entry.ID != "" {
		scope = chat.Scope{PeerID: entry.ID}
		name = entry.Name
	}
	a.engine.SetScope(a.ctx, scope)
	a.thread.SetScopeName(name)
	a.redrawThread()
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) toggleBusy() {
	a.busy = !a.busy
	if a.busy {
		a.tracker.SetStatus(presence.StatusBusy, "")
	} else {
		a.tracker.SetStatus(presence.StatusOnline, "")
	}
	a.statusBar.SetSelf(a.tracker.Self().Status)
}

// retryLastFailed requeues the most recent failed send in the active scope.
func (a *App) retryLastFailed() {
	msgs := a.engine.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.SenderID == a.localID && m.Status == chat.StatusFailed {
			if err := a.engine.Retry(a.ctx, m.ID); err != nil {
				a.statusBar.SetFlash("Retry failed: " + err.Error())
			}
			a.redrawThread()
			return
		}
	}
}

func (a *App) redrawThread() {
	a.thread.Update(a.engine.Messages(), a.localID, a.names)
}

func (a *App) redrawRoster() {
	entries := []views.RosterEntry{{Name: publicRoomName, Glyph: "[gray]#[-]"}}

	seen := map[string]bool{}
	friends, err := a.db.GetFriendsList(a.ctx, a.localID)
	if err != nil {
		a.logger.Warn("loading friends", zap.Error(err))
	}
	for _, f := range friends {
		a.names[f.ID] = f.Name()
		rec, _ := a.registry.Get(f.ID)
		entries = append(entries, views.RosterEntry{
			ID:     f.ID,
			Name:   f.Name(),
			Glyph:  views.PresenceGlyph(rec.Status),
			Detail: a.registry.LastSeenText(f.ID),
		})
		seen[f.ID] = true
	}

	// Peers the registry knows about but the friends list does not.
	for _, rec := range a.registry.Peers() {
		if seen[rec.UserID] {
			continue
		}
		entries = append(entries, views.RosterEntry{
			ID:     rec.UserID,
			Name:   rec.UserID,
			Glyph:  views.PresenceGlyph(rec.Status),
			Detail: a.registry.LastSeenText(rec.UserID),
		})
	}

	a.roster.Update(entries)
}

// Run starts the TUI application. It blocks until the user quits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 64)
	go a.eventLoop(events, unsub)

	a.redrawRoster()
	a.thread.SetScopeName(publicRoomName)
	a.redrawThread()
	a.statusBar.SetSelf(a.tracker.Self().Status)

	return a.app.Run()
}

func (a *App) eventLoop(events <-chan bus.Event, unsub func()) {
	defer unsub()

	// Coalesce bursts of events into one redraw.
	dirty := false
	flush := time.NewTicker(250 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case bus.KindRelayConnected:
				a.app.QueueUpdateDraw(func() { a.statusBar.SetConnected(true) })
			case bus.KindRelayDisconnected:
				a.app.QueueUpdateDraw(func() { a.statusBar.SetConnected(false) })
			default:
				dirty = true
			}
		case <-flush.C:
			if !dirty {
				continue
			}
			dirty = false
			a.app.QueueUpdateDraw(func() {
				a.redrawRoster()
				a.redrawThread()
				a.statusBar.SetSelf(a.tracker.Self().Status)
			})
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
