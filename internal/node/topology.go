package node

import (
	"github.com/danmuck/hsslink/internal/observability"
	"github.com/rs/zerolog/log"
)

// TopologyListener is told once per reconciliation that changed anything.
// It runs after the directory is consistent and may query it.
type TopologyListener func(Report)

// InstallTopologyListener replaces the topology listener; nil removes it.
func (n *Node) InstallTopologyListener(fn TopologyListener) {
	n.topoMu.Lock()
	defer n.topoMu.Unlock()
	n.topoListener = fn
}

func (n *Node) notifyTopology(r Report) {
	n.topoMu.Lock()
	fn := n.topoListener
	n.topoMu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// topologyStarted pauses all traffic while addresses are in flux.
func (n *Node) topologyStarted() {
	log.Debug().Msg("node.topology.started")
	n.pauseChannels()
}

// topologyCompleted reconciles against generation gen, unless another event
// has already superseded it.
func (n *Node) topologyCompleted(gen uint32) {
	if d := n.cfg.Session.SettleDelay; d > 0 {
		n.cfg.Sleep(d)
	}
	if current := n.port.Generation(); current != gen {
		observability.RecordStaleGeneration()
		log.Debug().Uint32("generation", gen).Uint32("current", current).Msg("node.topology.stale")
		return
	}
	n.reconcile(gen)
}
