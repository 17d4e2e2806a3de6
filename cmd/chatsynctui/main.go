package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/config"
	"github.com/mfcarvalho/chatsync/internal/daemon"
	"github.com/mfcarvalho/chatsync/internal/presence"
	"github.com/mfcarvalho/chatsync/internal/profile"
	"github.com/mfcarvalho/chatsync/internal/store"
	intsync "github.com/mfcarvalho/chatsync/internal/sync"
	"github.com/mfcarvalho/chatsync/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = &config.Config{}
	}

	// The TUI links the sync client in-process and owns the terminal, so
	// logs go to the file only.
	var (
		id       daemon.Identity
		b        *bus.Bus
		db       *store.DB
		engine   *intsync.Engine
		tracker  *presence.Tracker
		registry *presence.Registry
		logger   *zap.Logger
	)

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, Config: cfg, Quiet: true}),
		fx.Populate(&id, &b, &db, &engine, &tracker, &registry, &logger),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewApp(profileName, id.UserID, engine, tracker, registry, db, b, logger)
	runErr := ui.Run()
	ui.Stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
