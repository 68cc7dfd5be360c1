// Package transport implements the UDP datapath: socket lifecycle, hole
// punching, keep-alive, ACK tracking, and the send/receive loops.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peerbridge/peerbridge/internal/protocol"
	"github.com/peerbridge/peerbridge/internal/state"
	"github.com/peerbridge/peerbridge/internal/util"
)

// Errors returned by the public contract.
var (
	ErrNotRunning     = errors.New("transport: not running")
	ErrTooLarge       = errors.New("transport: payload too large")
	ErrAlreadyRunning = errors.New("transport: already listening")
	ErrAlreadyPeered  = errors.New("transport: already connected to a peer")
)

const (
	recvBufferBytes = 4 << 20 // 4 MiB
	sendQueueSize   = 256
	holePunchCount  = 5
	holePunchSpace  = 100 * time.Millisecond
	keepAliveTick   = 3 * time.Second
	disconnectCount = 3
	disconnectSpace = 50 * time.Millisecond
)

// Transport owns the UDP socket for a single peer session. It dispatches
// decoded messages to a single registered callback and posts lifecycle
// events to the shared state.Machine.
type Transport struct {
	conn *net.UDPConn

	machine *state.Machine
	link    *state.PeerLink

	peerEndpoint atomic.Pointer[net.UDPAddr]
	seqCounter   atomic.Uint32

	ackMu       sync.Mutex
	pendingAcks map[uint32]time.Time

	onMessage atomic.Pointer[func([]byte)]

	sendQueue chan outboundFrame

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Transport bound to machine's shared state. StartListening
// must be called before any peer interaction.
func New(machine *state.Machine, link *state.PeerLink) *Transport {
	return &Transport{
		machine:     machine,
		link:        link,
		pendingAcks: make(map[uint32]time.Time),
	}
}

// StartListening takes ownership of an already-bound UDP socket — the same
// socket STUN used to discover this endpoint's public address, per the
// transport's socket-ownership contract — raises its kernel send/recv
// buffers, and starts the receive and send worker goroutines.
func (t *Transport) StartListening(conn *net.UDPConn) error {
	if t.running.Load() {
		return ErrAlreadyRunning
	}

	raiseSocketBuffers(conn)

	t.conn = conn
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.sendQueue = make(chan outboundFrame, sendQueueSize)
	t.running.Store(true)

	t.wg.Add(2)
	go t.receiveLoop()
	go t.sendLoop()

	return nil
}

// LocalAddr returns the bound local address, or nil if not listening.
func (t *Transport) LocalAddr() *net.UDPAddr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// OnMessage registers the callback invoked with the payload of every
// inbound MESSAGE frame. Only one callback may be registered at a time.
func (t *Transport) OnMessage(fn func(payload []byte)) {
	t.onMessage.Store(&fn)
}

// ConnectToPeer records the peer endpoint, transitions to CONNECTING, and
// begins the hole-punch train followed by the keep-alive timer.
func (t *Transport) ConnectToPeer(ip string, port int) error {
	if t.link.IsConnected() {
		return ErrAlreadyPeered
	}

	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	t.peerEndpoint.Store(addr)
	t.machine.SetState(state.Connecting)

	t.wg.Add(1)
	go t.holePunchThenKeepAlive(addr)

	return nil
}

// IsConnected reports whether the peer link is currently connected.
func (t *Transport) IsConnected() bool {
	return t.link.IsConnected()
}

// SendMessage frames payload as a MESSAGE, assigns the next sequence
// number, records the pending ACK, and dispatches it asynchronously.
func (t *Transport) SendMessage(payload []byte) error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	if protocol.HeaderSize+len(payload) > protocol.MaxPacketSize {
		return ErrTooLarge
	}

	seq := t.seqCounter.Add(1)
	t.trackAck(seq)
	t.enqueueFrame(protocol.TypeMessage, seq, payload)
	return nil
}

// StopConnection sends three DISCONNECT frames 50ms apart (best-effort),
// clears the connected flag, and returns to IDLE. Idempotent.
func (t *Transport) StopConnection() {
	if t.link.IsConnected() {
		for i := 0; i < disconnectCount; i++ {
			t.enqueueFrame(protocol.TypeDisconnect, t.seqCounter.Add(1), nil)
			time.Sleep(disconnectSpace)
		}
	}
	t.link.SetConnected(false)
	t.machine.SetState(state.Idle)
}

// Shutdown stops the connection if connected, transitions to
// SHUTTING_DOWN, and tears down the socket and workers. Idempotent.
func (t *Transport) Shutdown() {
	if !t.running.Load() {
		return
	}
	if t.link.IsConnected() {
		t.StopConnection()
	}
	t.machine.SetState(state.ShuttingDown)

	t.running.Store(false)
	t.cancel()
	if t.conn != nil {
		t.conn.Close()
	}
	t.wg.Wait()
}

func (t *Transport) trackAck(seq uint32) {
	t.ackMu.Lock()
	t.pendingAcks[seq] = time.Now()
	t.ackMu.Unlock()
}

func (t *Transport) untrackAck(seq uint32) {
	t.ackMu.Lock()
	delete(t.pendingAcks, seq)
	t.ackMu.Unlock()
}

func (t *Transport) enqueueFrame(kind uint8, seq uint32, payload []byte) {
	addr := t.peerEndpoint.Load()
	if addr == nil {
		return
	}
	t.enqueueFrameTo(kind, seq, payload, addr)
}

func (t *Transport) enqueueFrameTo(kind uint8, seq uint32, payload []byte, addr *net.UDPAddr) {
	data := protocol.Encode(&protocol.Frame{Type: kind, SeqNum: seq, Payload: payload})
	select {
	case t.sendQueue <- outboundFrame{data: data, addr: addr, seq: seq}:
	case <-t.ctx.Done():
	default:
		// Queue full: drop rather than block the caller, and clear any
		// pending ACK this frame would have carried (no-op if seq was
		// never tracked).
		util.LogWarning("transport: send queue full, dropping frame type 0x%02x seq %d", kind, seq)
		util.LogNet("send queue full, dropped frame type 0x%02x seq=%d to %s", kind, seq, addr)
		t.untrackAck(seq)
	}
}

func raiseSocketBuffers(conn *net.UDPConn) {
	if err := conn.SetReadBuffer(recvBufferBytes); err != nil {
		util.LogWarning("transport: failed to raise read buffer: %v", err)
	}
	if err := conn.SetWriteBuffer(recvBufferBytes); err != nil {
		util.LogWarning("transport: failed to raise write buffer: %v", err)
	}
}
