package node

import (
	"fmt"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/configrom"
	"github.com/danmuck/hsslink/internal/observability"
	"github.com/rs/zerolog/log"
)

// ChangeKind classifies one directory change.
type ChangeKind int

const (
	PeerAppeared ChangeKind = iota
	PeerMoved
	PeerLost
	PeerReturned
)

func (k ChangeKind) String() string {
	switch k {
	case PeerAppeared:
		return "appeared"
	case PeerMoved:
		return "moved"
	case PeerLost:
		return "lost"
	case PeerReturned:
		return "returned"
	default:
		return "unknown"
	}
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ChangeKind) UnmarshalText(b []byte) error {
	for c := PeerAppeared; c <= PeerReturned; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("node: unknown change kind %q", b)
}

// Change is one record's difference between two reconciliations.
type Change struct {
	Kind     ChangeKind   `json:"kind"`
	Index    int          `json:"index"`
	Identity bus.Identity `json:"identity"`
	From     bus.Address  `json:"from"`
	To       bus.Address  `json:"to"`
}

// Report summarizes one reconciliation.
type Report struct {
	Generation uint32   `json:"generation"`
	Changes    []Change `json:"changes,omitempty"`
	// Addressing is set when a peer was added or changed address.
	Addressing bool `json:"addressing"`
	// Liveness is set when any peer became live or stopped being live.
	Liveness bool `json:"liveness"`
}

// Changed reports whether the topology listener is told about this pass.
func (r Report) Changed() bool {
	return r.Addressing || r.Liveness
}

type scanEntry struct {
	addr bus.Address
	info configrom.Info
}

type transition struct {
	ch   *Channel
	live bool
}

// Reconcile rescans the bus outside of any topology event. Channels whose
// peer is still bound keep sending throughout, and channels stopped by the
// consumer stay stopped.
func (n *Node) Reconcile() Report {
	return n.reconcile(n.port.Generation())
}

// reconcile brings the directory in line with what is on the bus now.
// Readers of the directory wait until it is consistent again; channel and
// topology notifications run after the directory lock is released.
func (n *Node) reconcile(gen uint32) Report {
	n.reconcileMu.Lock()
	defer n.reconcileMu.Unlock()

	scan := n.scan()
	versions := n.probeNewcomers(scan)
	report := Report{Generation: gen}

	n.dir.mu.Lock()

	// Snapshot and clear liveness.
	for _, rec := range n.dir.records {
		rec.wasLive = rec.live
		rec.prevAddr = rec.addr
		rec.live = false
	}

	// Match the scan against known identities; strangers were probed above.
	for _, e := range scan {
		if rec := n.dir.byIdentity(e.info.Identity); rec != nil {
			if rec.live {
				log.Warn().Str("peer", rec.identity.String()).Str("addr", e.addr.String()).Msg("node.reconcile.duplicate_identity")
				continue
			}
			rec.live = true
			if rec.addr != e.addr {
				report.Changes = append(report.Changes, Change{
					Kind: PeerMoved, Index: rec.index, Identity: rec.identity, From: rec.addr, To: e.addr,
				})
				rec.addr = e.addr
				report.Addressing = true
			}
			continue
		}
		version, ok := versions[e.addr]
		if !ok {
			log.Debug().Str("addr", e.addr.String()).Str("identity", e.info.Identity.String()).Msg("node.reconcile.not_a_peer")
			continue
		}
		rec := n.newRecord(len(n.dir.records), e.addr, e.info, version)
		rec.live = true
		n.dir.records = append(n.dir.records, rec)
		report.Changes = append(report.Changes, Change{
			Kind: PeerAppeared, Index: rec.index, Identity: rec.identity, From: bus.InvalidAddress, To: e.addr,
		})
		report.Addressing = true
		log.Info().Str("peer", rec.identity.String()).Str("addr", e.addr.String()).Uint16("version", version).Str("name", rec.name).Msg("node.peer.discovered")
	}

	// Unbind every handler from where it used to be before binding anything
	// anew, so a peer that took over another's address is not refused.
	for _, rec := range n.dir.records {
		if rec.wasLive && rec.installed {
			n.port.RemoveHandler(rec.prevAddr)
			rec.installed = false
		}
	}

	// Bind live peers. A refused install leaves the peer down until the next
	// event.
	live := 0
	for _, rec := range n.dir.records {
		if !rec.live {
			continue
		}
		rec.installed = n.install(rec)
		rec.live = rec.installed
		if rec.live {
			live++
		}
	}
	for _, rec := range n.dir.records {
		if ch := rec.channel.Load(); ch != nil {
			if rec.live {
				ch.unpause()
			} else {
				ch.pause()
			}
		}
	}

	var transitions []transition
	for _, rec := range n.dir.records {
		if rec.live == rec.wasLive {
			continue
		}
		report.Liveness = true
		if !rec.live {
			report.Changes = append(report.Changes, Change{
				Kind: PeerLost, Index: rec.index, Identity: rec.identity, From: rec.prevAddr, To: bus.InvalidAddress,
			})
		} else if rec.prevAddr != bus.InvalidAddress {
			report.Changes = append(report.Changes, Change{
				Kind: PeerReturned, Index: rec.index, Identity: rec.identity, From: rec.prevAddr, To: rec.addr,
			})
		}
		if ch := rec.channel.Load(); ch != nil {
			transitions = append(transitions, transition{ch: ch, live: rec.live})
		}
	}

	n.dir.mu.Unlock()

	observability.RecordReconcile(report.Changed(), live)
	log.Info().Uint32("generation", gen).Int("peers", len(scan)).Int("live", live).Int("changes", len(report.Changes)).Msg("node.reconcile")

	for _, t := range transitions {
		t.ch.connectivity(t.live)
	}
	if report.Changed() {
		n.notifyTopology(report)
	}
	return report
}

// probeNewcomers probes every scanned node whose identity is not in the
// directory yet and returns the versions of those that answered. It runs
// without the directory lock: a write probe's answer may arrive on a
// goroutine that is waiting to read the directory. Caller holds
// n.reconcileMu.
func (n *Node) probeNewcomers(scan []scanEntry) map[bus.Address]uint16 {
	n.dir.mu.RLock()
	var strangers []bus.Address
	for _, e := range scan {
		if n.dir.byIdentity(e.info.Identity) == nil {
			strangers = append(strangers, e.addr)
		}
	}
	n.dir.mu.RUnlock()

	versions := make(map[bus.Address]uint16, len(strangers))
	for _, addr := range strangers {
		if version, ok := n.probe(addr); ok {
			versions[addr] = version
		}
	}
	return versions
}

// scan reads and resolves the ROM of every node on the bus.
func (n *Node) scan() []scanEntry {
	addrs := n.port.Scan()
	out := make([]scanEntry, 0, len(addrs))
	for _, addr := range addrs {
		raw, err := n.port.ReadBlock(addr, bus.ConfigROMOffset, bus.ConfigROMBytes)
		if err != nil {
			log.Debug().Err(err).Str("addr", addr.String()).Msg("node.scan.rom_read_failed")
			continue
		}
		info, err := n.cfg.Resolver.Resolve(raw)
		if err != nil {
			log.Debug().Err(err).Str("addr", addr.String()).Msg("node.scan.rom_unresolved")
			continue
		}
		out = append(out, scanEntry{addr: addr, info: info})
	}
	return out
}
