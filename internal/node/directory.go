package node

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/observability"
	"github.com/danmuck/hsslink/internal/protocol/frame"
)

// PeerInfo is a read-only snapshot of one directory record.
type PeerInfo struct {
	Index           int          `json:"index" yaml:"index"`
	Identity        bus.Identity `json:"identity" yaml:"identity"`
	Name            string       `json:"name" yaml:"name"`
	Vendor          string       `json:"vendor" yaml:"vendor"`
	Address         bus.Address  `json:"address" yaml:"address"`
	ProtocolVersion uint16       `json:"protocol_version" yaml:"protocol_version"`
	Live            bool         `json:"live" yaml:"live"`
	// Available is true when the peer is live, its handler is bound and no
	// channel is open to it.
	Available   bool `json:"available" yaml:"available"`
	Installed   bool `json:"installed" yaml:"installed"`
	ChannelOpen bool `json:"channel_open" yaml:"channel_open"`
}

// peerRecord is one discovered peer. Records are never removed; a peer that
// leaves the bus is only marked not live so a later return under any address
// maps back onto the same record and channel.
//
// Fields other than channel are guarded by Directory.mu.
type peerRecord struct {
	index    int
	identity bus.Identity
	name     string
	vendor   string
	version  uint16

	addr     bus.Address
	prevAddr bus.Address
	live     bool
	wasLive  bool
	// installed is true while handler is bound at addr.
	installed bool

	handler *peerHandler
	channel atomic.Pointer[Channel]
}

func (r *peerRecord) active() bool {
	return r.live && r.installed
}

func (r *peerRecord) info() PeerInfo {
	ch := r.channel.Load()
	return PeerInfo{
		Index:           r.index,
		Identity:        r.identity,
		Name:            r.name,
		Vendor:          r.vendor,
		Address:         r.addr,
		ProtocolVersion: r.version,
		Live:            r.live,
		Available:       ch == nil && r.active(),
		Installed:       r.installed,
		ChannelOpen:     ch != nil,
	}
}

// peerHandler is the bus handler bound for one record. It outlives address
// changes so a prefix held across a topology event is kept.
type peerHandler struct {
	rec    *peerRecord
	framer *frame.Framer
}

func (h *peerHandler) WriteRequest(block []byte) bool {
	ok := h.framer.Feed(block)
	observability.RecordBlockReceived(h.rec.identity.String(), ok)
	return ok
}

// Directory holds every peer ever seen, in discovery order. Reconciliation
// holds mu exclusively; lookups hold it shared, so a reader never sees a
// half-reconciled directory.
type Directory struct {
	mu      sync.RWMutex
	records []*peerRecord
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Info returns the record at index if it is live.
func (d *Directory) Info(index int) (PeerInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.at(index)
	if !ok || !rec.live {
		return PeerInfo{}, false
	}
	return rec.info(), true
}

// Snapshot returns every record, live or not.
func (d *Directory) Snapshot() []PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerInfo, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, rec.info())
	}
	return out
}

// Find returns the index of the record with id.
func (d *Directory) Find(id bus.Identity) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rec := d.byIdentity(id); rec != nil {
		return rec.index, true
	}
	return -1, false
}

func (d *Directory) at(index int) (*peerRecord, bool) {
	if index < 0 || index >= len(d.records) {
		return nil, false
	}
	return d.records[index], true
}

func (d *Directory) byIdentity(id bus.Identity) *peerRecord {
	for _, rec := range d.records {
		if rec.identity == id {
			return rec
		}
	}
	return nil
}

// activeAddress resolves where to write for rec, if anywhere.
func (d *Directory) activeAddress(rec *peerRecord) (bus.Address, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !rec.active() {
		return bus.InvalidAddress, false
	}
	return rec.addr, true
}

func (d *Directory) isActive(rec *peerRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return rec.active()
}

func (d *Directory) infoOf(rec *peerRecord) PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return rec.info()
}
