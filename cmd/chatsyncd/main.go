package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/mfcarvalho/chatsync/internal/config"
	"github.com/mfcarvalho/chatsync/internal/daemon"
	"github.com/mfcarvalho/chatsync/internal/profile"
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
		// Missing config is fine; components fall back to defaults.
		cfg = &config.Config{}
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, Config: cfg}),
	)

	app.Run()
}
