package config

import (
	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/bus/simbus"
)

// SimPeers converts validated fixture entries into simulated peers keyed by
// bus address.
func SimPeers(entries []PeerFixture) map[bus.Address]simbus.Peer {
	peers := make(map[bus.Address]simbus.Peer, len(entries))
	for _, entry := range entries {
		id, _ := bus.ParseIdentity(entry.Identity)
		peers[bus.Address(entry.Address)] = simbus.Peer{
			Identity: id,
			Vendor:   entry.Vendor,
			Model:    entry.Model,
			Version:  uint16(entry.Version),
			Silent:   entry.Silent,
		}
	}
	return peers
}

// BuildBus returns a simulated bus with every fixture peer attached.
func (f BusFixture) BuildBus() *simbus.Bus {
	b := simbus.New()
	for addr, p := range SimPeers(f.Peers) {
		b.Attach(addr, p)
	}
	return b
}
