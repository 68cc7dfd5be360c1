package state

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/peerbridge/peerbridge/internal/util"
)

// SystemState is one of the four lifecycle states of a session.
type SystemState int32

const (
	Idle SystemState = iota
	Connecting
	Connected
	ShuttingDown
)

func (s SystemState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions is the transition table of the state diagram. SetState
// rejects any pair not listed here, except that a request for the current
// state is always accepted as a no-op.
var legalTransitions = map[SystemState]map[SystemState]bool{
	Idle:         {Idle: true, Connecting: true, ShuttingDown: true},
	Connecting:   {Connected: true, Idle: true, ShuttingDown: true},
	Connected:    {Connected: true, Idle: true, ShuttingDown: true},
	ShuttingDown: {},
}

// EventKind distinguishes the members of the NetworkEvent union.
type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventAllPeersDisconnected
	EventShutdownRequested
)

// Event is a single entry in the state machine's FIFO event queue.
type Event struct {
	Kind     EventKind
	Endpoint *net.UDPAddr // set only for EventPeerConnected
}

// Machine is the system state machine plus its mutex-guarded event queue.
// The transport (and the supervisor, on shutdown) are the producers; a
// single monitor goroutine is the consumer.
type Machine struct {
	current atomic.Int32

	mu    sync.Mutex
	queue []Event
}

// NewMachine returns a Machine starting in IDLE.
func NewMachine() *Machine {
	m := &Machine{}
	m.current.Store(int32(Idle))
	return m
}

// State returns the current state.
func (m *Machine) State() SystemState {
	return SystemState(m.current.Load())
}

// IsIn reports whether the machine is currently in the given state.
func (m *Machine) IsIn(s SystemState) bool {
	return m.State() == s
}

// SetState attempts to transition to target. Requesting the current state
// is a silent no-op. Rejected transitions are logged as a warning and leave
// the state unmodified.
func (m *Machine) SetState(target SystemState) {
	current := m.State()
	if current == target || legalTransitions[current][target] {
		m.current.Store(int32(target))
		return
	}
	util.LogWarning("state: rejected transition %s -> %s", current, target)
}

// QueueEvent appends e to the FIFO event queue.
func (m *Machine) QueueEvent(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, e)
}

// NextEvent pops and returns the oldest queued event. ok is false when the
// queue is empty.
func (m *Machine) NextEvent() (e Event, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Event{}, false
	}
	e, m.queue = m.queue[0], m.queue[1:]
	return e, true
}

// HasEvents reports whether the queue is non-empty.
func (m *Machine) HasEvents() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) > 0
}
