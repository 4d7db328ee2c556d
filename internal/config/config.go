package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/pelletier/go-toml/v2"
)

// BusFixture describes a simulated bus segment.
type BusFixture struct {
	Name  string        `toml:"name"`
	Peers []PeerFixture `toml:"peers"`
}

// PeerFixture is one simulated node on the fixture bus.
type PeerFixture struct {
	Address  int    `toml:"address"`
	Identity string `toml:"identity"`
	Vendor   string `toml:"vendor"`
	Model    string `toml:"model"`
	Version  int    `toml:"version"`
	Silent   bool   `toml:"silent"`
}

func LoadBusFixture(path string) (BusFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BusFixture{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseBusFixture(data)
	if err != nil {
		return BusFixture{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

func ParseBusFixture(data []byte) (BusFixture, error) {
	var cfg BusFixture
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return BusFixture{}, err
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "simbus"
	}
	if err := ValidateBusFixture(cfg); err != nil {
		return BusFixture{}, err
	}
	return cfg, nil
}

func ValidateBusFixture(cfg BusFixture) error {
	addrs := make(map[int]int, len(cfg.Peers))
	ids := make(map[bus.Identity]int, len(cfg.Peers))
	for i, p := range cfg.Peers {
		if err := ValidatePeerEntry(p); err != nil {
			return fmt.Errorf("peer[%d] invalid: %w", i, err)
		}
		if prev, ok := addrs[p.Address]; ok {
			return fmt.Errorf("peer[%d] invalid: address %d already used by peer[%d]", i, p.Address, prev)
		}
		addrs[p.Address] = i
		id, _ := bus.ParseIdentity(p.Identity)
		if prev, ok := ids[id]; ok {
			return fmt.Errorf("peer[%d] invalid: identity %s already used by peer[%d]", i, id, prev)
		}
		ids[id] = i
	}
	return nil
}

func ValidatePeerEntry(p PeerFixture) error {
	if p.Address < 0 || p.Address > int(bus.MaxAddress) {
		return fmt.Errorf("address %d out of range 0..%d", p.Address, bus.MaxAddress)
	}
	if strings.TrimSpace(p.Identity) == "" {
		return fmt.Errorf("identity is required")
	}
	id, err := bus.ParseIdentity(p.Identity)
	if err != nil {
		return err
	}
	if id.IsZero() {
		return fmt.Errorf("identity must be non-zero")
	}
	if p.Version < 0 || p.Version > 0xffff {
		return fmt.Errorf("version %d out of range", p.Version)
	}
	return nil
}
