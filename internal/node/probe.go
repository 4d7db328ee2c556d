package node

import (
	"time"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// probe asks the node at addr whether it speaks the link protocol and
// returns its protocol version. Ports with a native liveness check are
// trusted to do it themselves. Caller holds n.reconcileMu but not n.dir.mu.
func (n *Node) probe(addr bus.Address) (uint16, bool) {
	style := n.cfg.Session.ProbeStyle
	if p, ok := n.port.(bus.Prober); ok {
		return p.Probe(addr, style)
	}
	switch style {
	case bus.ProbeWrite:
		return n.writePing(addr)
	default:
		return n.readPing(addr)
	}
}

func (n *Node) readPing(addr bus.Address) (uint16, bool) {
	raw, err := n.port.ReadBlock(addr, bus.ProtocolOffset, protocol.PingLen)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Msg("node.probe.read_failed")
		return 0, false
	}
	version, err := protocol.DecodeReadPing(raw)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Msg("node.probe.read_invalid")
		return 0, false
	}
	return version, true
}

// writePing binds a temporary handler at addr, sends a ping and waits for the
// answer. Whatever handler was bound at addr is put back afterwards.
func (n *Node) writePing(addr bus.Address) (uint16, bool) {
	answer := make(chan uint16, 1)
	pong := bus.HandlerFunc(func(block []byte) bool {
		version, err := protocol.DecodePingResponse(block)
		if err != nil {
			return false
		}
		select {
		case answer <- version:
		default:
		}
		return true
	})

	previous := n.port.RemoveHandler(addr)
	defer func() {
		n.port.RemoveHandler(addr)
		if previous != nil {
			if _, err := n.port.InstallHandler(addr, previous); err != nil {
				log.Warn().Err(err).Str("addr", addr.String()).Msg("node.probe.restore_failed")
			}
		}
	}()

	off, err := n.port.InstallHandler(addr, pong)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Msg("node.probe.install_failed")
		return 0, false
	}
	n.pointPeerAt(addr, off)
	if err := n.port.WriteBlock(addr, bus.ProtocolOffset, protocol.EncodePing()); err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Msg("node.probe.ping_failed")
		return 0, false
	}

	timer := time.NewTimer(n.cfg.Session.ProbeTimeout)
	defer timer.Stop()
	select {
	case version := <-answer:
		return version, true
	case <-timer.C:
		log.Debug().Str("addr", addr.String()).Dur("timeout", n.cfg.Session.ProbeTimeout).Msg("node.probe.timeout")
		return 0, false
	}
}
