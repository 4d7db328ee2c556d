package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/testutil/testlog"
)

func TestBusTemplateParsesAndBuilds(t *testing.T) {
	testlog.Start(t)
	tmpl, err := Template("bus")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	cfg, err := ParseBusFixture([]byte(tmpl))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "bench" || len(cfg.Peers) != 3 {
		t.Fatalf("unexpected fixture %+v", cfg)
	}

	peers := SimPeers(cfg.Peers)
	p, ok := peers[3]
	if !ok {
		t.Fatalf("peer at address 3 missing")
	}
	if p.Identity != (bus.Identity{Hi: 0x00012000, Lo: 2}) || p.Version != 256 || p.Model != "SCS.1m" {
		t.Fatalf("unexpected sim peer %+v", p)
	}
	if !peers[7].Silent {
		t.Fatalf("silent flag lost")
	}

	b := cfg.BuildBus()
	if got := b.Scan(); len(got) != 3 {
		t.Fatalf("scan got=%v", got)
	}
}

func TestParseBusFixtureDefaultsName(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseBusFixture([]byte("[[peers]]\naddress = 1\nidentity = \"1\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "simbus" {
		t.Fatalf("default name got=%q", cfg.Name)
	}
}

func TestValidateBusFixtureRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"address range":      "[[peers]]\naddress = 63\nidentity = \"1\"\n",
		"missing identity":   "[[peers]]\naddress = 1\n",
		"bad identity":       "[[peers]]\naddress = 1\nidentity = \"xyz\"\n",
		"zero identity":      "[[peers]]\naddress = 1\nidentity = \"0\"\n",
		"version range":      "[[peers]]\naddress = 1\nidentity = \"1\"\nversion = 70000\n",
		"duplicate address":  "[[peers]]\naddress = 1\nidentity = \"1\"\n[[peers]]\naddress = 1\nidentity = \"2\"\n",
		"duplicate identity": "[[peers]]\naddress = 1\nidentity = \"1\"\n[[peers]]\naddress = 2\nidentity = \"1\"\n",
		"syntax":             "[[peers]\n",
	}
	for name, raw := range cases {
		if _, err := ParseBusFixture([]byte(raw)); err == nil {
			t.Fatalf("case=%q expected error", name)
		}
	}
}

func TestWriteTemplateRespectsOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bus.toml")
	if err := WriteTemplate(path, "bus", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, "bus", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "hssctl", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "admin_addr") {
		t.Fatalf("overwrite did not take effect")
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("unknown kind should error")
	}

	if _, err := LoadBusFixture(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file should error")
	}
}
