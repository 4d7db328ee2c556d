package bus

import "errors"

var (
	ErrNotStarted      = errors.New("bus: port not started")
	ErrAlreadyStarted  = errors.New("bus: port already started")
	ErrNoSuchNode      = errors.New("bus: no node at address")
	ErrTimeout         = errors.New("bus: async timeout")
	ErrNak             = errors.New("bus: request rejected")
	ErrHandlerConflict = errors.New("bus: handler already installed")
	ErrNilHandler      = errors.New("bus: nil handler")
)

// Handler receives blocks written by a peer into a local offset. It returns
// false when the block was rejected.
type Handler interface {
	WriteRequest(block []byte) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(block []byte) bool

func (f HandlerFunc) WriteRequest(block []byte) bool {
	return f(block)
}

// TopologyHooks bracket a topology event. Started fires before addresses
// become meaningless, Completed after the bus has settled on generation.
// Either field may be nil.
type TopologyHooks struct {
	Started   func()
	Completed func(generation uint32)
}

// Port is the transport capability a platform driver provides. Block
// operations block until the bus answers or the driver's timeout expires.
// Hooks and handlers are invoked from driver goroutines.
type Port interface {
	Start() error
	Stop() error

	// Scan lists currently reachable addresses in no particular order.
	Scan() []Address

	ReadBlock(addr Address, off Offset, maxBytes int) ([]byte, error)
	WriteBlock(addr Address, off Offset, block []byte) error

	// InstallHandler binds h to blocks arriving from addr and returns the
	// local offset the peer must write to.
	InstallHandler(addr Address, h Handler) (Offset, error)
	// RemoveHandler unbinds and returns the handler for addr, or nil.
	RemoveHandler(addr Address) Handler

	SetTopologyHooks(h TopologyHooks)
	Generation() uint32
}

// ProbeStyle selects how a liveness probe is performed.
type ProbeStyle int

const (
	ProbeRead ProbeStyle = iota
	ProbeWrite
)

func (s ProbeStyle) String() string {
	if s == ProbeWrite {
		return "write"
	}
	return "read"
}

// Prober is implemented by drivers with a native liveness probe. The node
// layer falls back to a protocol ping when the port does not implement it.
type Prober interface {
	Probe(addr Address, style ProbeStyle) (version uint16, ok bool)
}
