package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	UserID         string `toml:"user_id"`
	DisplayName    string `toml:"display_name"`
	RelayURL       string `toml:"relay_url"`

	Presence Presence `toml:"presence"`
	Sync     Sync     `toml:"sync"`
}

// Presence tunes the presence timers, in seconds. Zero picks the defaults
// (30s heartbeat, 60s idle, 60s sweep, 300s expiry).
type Presence struct {
	HeartbeatSecs int `toml:"heartbeat_secs"`
	IdleSecs      int `toml:"idle_secs"`
	SweepSecs     int `toml:"sweep_secs"`
	ExpirySecs    int `toml:"expiry_secs"`
}

// Sync tunes the reconciliation poll, in seconds. Zero picks the 3s default.
type Sync struct {
	PollSecs int `toml:"poll_secs"`
}

// HeartbeatEvery returns the heartbeat interval, zero if unset.
func (p Presence) HeartbeatEvery() time.Duration { return secs(p.HeartbeatSecs) }

// IdleAfter returns the idle timeout, zero if unset.
func (p Presence) IdleAfter() time.Duration { return secs(p.IdleSecs) }

// SweepEvery returns the registry sweep interval, zero if unset.
func (p Presence) SweepEvery() time.Duration { return secs(p.SweepSecs) }

// ExpireAfter returns the registry staleness expiry, zero if unset.
func (p Presence) ExpireAfter() time.Duration { return secs(p.ExpirySecs) }

// PollEvery returns the poll interval, zero if unset.
func (s Sync) PollEvery() time.Duration { return secs(s.PollSecs) }

func secs(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
