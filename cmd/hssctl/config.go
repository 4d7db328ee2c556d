package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/protocol/session"
)

// hssctl config.toml key mapping to node runtime settings.
type fileConfig struct {
	Fixture      string   `toml:"fixture"`
	AdminAddr    string   `toml:"admin_addr"`
	CorsOrigins  []string `toml:"cors_origins"`
	AdminToken   string   `toml:"admin_token"`
	MaxRetries   int      `toml:"max_retries"`
	RetryDelay   string   `toml:"retry_delay"`
	ProbeStyle   string   `toml:"probe_style"`
	ProbeTimeout string   `toml:"probe_timeout"`
	SettleDelay  string   `toml:"settle_delay"`
}

type runtimeConfig struct {
	FixturePath string
	AdminAddr   string
	CorsOrigins []string
	AdminToken  string
	Session     session.Config
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		FixturePath: "bus.toml",
		AdminAddr:   ":9400",
		Session:     session.DefaultConfig(),
	}
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load hssctl config: %w", err)
	}

	if meta.IsDefined("fixture") {
		if v := strings.TrimSpace(raw.Fixture); v != "" {
			cfg.FixturePath = v
		}
	}
	if !filepath.IsAbs(cfg.FixturePath) {
		cfg.FixturePath = filepath.Join(filepath.Dir(path), cfg.FixturePath)
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("max_retries") {
		cfg.Session.MaxRetries = raw.MaxRetries
	}

	if meta.IsDefined("retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		cfg.Session.Backoff.InitialDelay = d
		if cfg.Session.Backoff.MaxDelay < d {
			cfg.Session.Backoff.MaxDelay = d
		}
	}

	if meta.IsDefined("probe_style") {
		style, err := parseProbeStyle(raw.ProbeStyle)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Session.ProbeStyle = style
	}

	if meta.IsDefined("probe_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ProbeTimeout))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse probe_timeout: %w", err)
		}
		cfg.Session.ProbeTimeout = d
	}

	if meta.IsDefined("settle_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SettleDelay))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse settle_delay: %w", err)
		}
		cfg.Session.SettleDelay = d
	}

	if err := cfg.Session.Validate(); err != nil {
		return runtimeConfig{}, err
	}
	return cfg, nil
}

func parseProbeStyle(raw string) (bus.ProbeStyle, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "read":
		return bus.ProbeRead, nil
	case "write":
		return bus.ProbeWrite, nil
	default:
		return bus.ProbeRead, fmt.Errorf("unknown probe_style %q", raw)
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
