package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/peerbridge/peerbridge/internal/protocol"
	"github.com/peerbridge/peerbridge/internal/state"
)

// listenLoopback binds an ephemeral UDP socket on loopback, standing in for
// the socket STUN would otherwise hand to StartListening.
func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return conn
}

func newPair(t *testing.T) (a, b *Transport, aMachine, bMachine *state.Machine) {
	t.Helper()

	aMachine = state.NewMachine()
	bMachine = state.NewMachine()
	a = New(aMachine, state.NewPeerLink())
	b = New(bMachine, state.NewPeerLink())

	if err := a.StartListening(listenLoopback(t)); err != nil {
		t.Fatalf("A StartListening: %v", err)
	}
	if err := b.StartListening(listenLoopback(t)); err != nil {
		t.Fatalf("B StartListening: %v", err)
	}

	t.Cleanup(func() {
		a.Shutdown()
		b.Shutdown()
	})

	return a, b, aMachine, bMachine
}

// waitFor polls cond until it is true or the deadline elapses.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestHolePunchThenMessage mirrors the documented scenario: two endpoints
// connect to each other, reach CONNECTED on first mutual reception, and a
// MESSAGE sent by one is delivered to the other's callback.
func TestHolePunchThenMessage(t *testing.T) {
	a, b, _, _ := newPair(t)

	var received []byte
	done := make(chan struct{}, 1)
	b.OnMessage(func(payload []byte) {
		received = payload
		done <- struct{}{}
	})

	if err := a.ConnectToPeer("127.0.0.1", b.LocalAddr().Port); err != nil {
		t.Fatalf("A ConnectToPeer: %v", err)
	}
	if err := b.ConnectToPeer("127.0.0.1", a.LocalAddr().Port); err != nil {
		t.Fatalf("B ConnectToPeer: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return a.IsConnected() && b.IsConnected() }) {
		t.Fatal("expected both endpoints to reach connected")
	}

	payload := []byte{0x45, 0x00, 0x00, 0x1C, 0, 0, 0, 0, 0, 0, 0, 0, 10, 0, 0, 1, 10, 0, 0, 2}
	if err := a.SendMessage(payload); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("B never received the message")
	}

	if len(received) != len(payload) {
		t.Fatalf("expected %d bytes delivered, got %d", len(payload), len(received))
	}

	if !waitFor(t, time.Second, func() bool {
		a.ackMu.Lock()
		defer a.ackMu.Unlock()
		return len(a.pendingAcks) == 0
	}) {
		t.Fatal("expected A's pending ACK to be cleared after B's ACK arrives")
	}
}

// TestSequenceNumbersIncreaseMonotonically covers P6.
func TestSequenceNumbersIncreaseMonotonically(t *testing.T) {
	a, b, _, _ := newPair(t)

	if err := a.ConnectToPeer("127.0.0.1", b.LocalAddr().Port); err != nil {
		t.Fatalf("ConnectToPeer: %v", err)
	}
	if err := b.ConnectToPeer("127.0.0.1", a.LocalAddr().Port); err != nil {
		t.Fatalf("ConnectToPeer: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return a.IsConnected() })

	var last uint32
	for i := 0; i < 5; i++ {
		before := a.seqCounter.Load()
		if err := a.SendMessage([]byte("x")); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		after := a.seqCounter.Load()
		if after <= before {
			t.Fatalf("expected sequence counter to strictly increase: before=%d after=%d", before, after)
		}
		if after <= last {
			t.Fatalf("sequence numbers not monotonic: got %d after %d", after, last)
		}
		last = after
	}
}

// TestIdleTimeoutDisconnects walks through the keep-alive loop's timeout
// step by hand, using a shortened threshold so the test completes quickly:
// a connected link silent past the threshold reports a timeout, and the
// ALL_PEERS_DISCONNECTED event posted for it comes out of the queue.
func TestIdleTimeoutDisconnects(t *testing.T) {
	machine := state.NewMachine()
	link := state.NewPeerLink()
	link.SetConnected(true)

	time.Sleep(20 * time.Millisecond)
	if !link.HasTimedOut(10 * time.Millisecond) {
		t.Fatal("expected link to be timed out")
	}

	link.SetConnected(false)
	machine.QueueEvent(allPeersDisconnectedEvent())

	ev, ok := machine.NextEvent()
	if !ok || ev.Kind != state.EventAllPeersDisconnected {
		t.Fatalf("expected ALL_PEERS_DISCONNECTED event, got %+v (ok=%v)", ev, ok)
	}
}

// TestStopConnectionReachesIdle covers the DISCONNECT scenario: A's
// StopConnection puts A's machine in IDLE, and B receives at least one
// DISCONNECT frame, drops its link, and posts ALL_PEERS_DISCONNECTED.
func TestStopConnectionReachesIdle(t *testing.T) {
	a, b, aMachine, bMachine := newPair(t)

	if err := a.ConnectToPeer("127.0.0.1", b.LocalAddr().Port); err != nil {
		t.Fatalf("ConnectToPeer: %v", err)
	}
	if err := b.ConnectToPeer("127.0.0.1", a.LocalAddr().Port); err != nil {
		t.Fatalf("ConnectToPeer: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return a.IsConnected() && b.IsConnected() }) {
		t.Fatal("expected both endpoints to connect")
	}

	aMachine.SetState(state.Connected)
	bMachine.SetState(state.Connected)

	a.StopConnection()

	if got := aMachine.State(); got != state.Idle {
		t.Fatalf("expected A's machine to be IDLE after StopConnection, got %s", got)
	}
	if !waitFor(t, time.Second, func() bool { return !b.IsConnected() }) {
		t.Fatal("expected B to observe the peer disconnecting")
	}
	if !waitFor(t, 500*time.Millisecond, func() bool {
		ev, ok := bMachine.NextEvent()
		return ok && ev.Kind == state.EventAllPeersDisconnected
	}) {
		t.Fatal("expected B's machine to receive ALL_PEERS_DISCONNECTED")
	}

	if a.IsConnected() {
		t.Fatal("expected A to no longer be connected after StopConnection")
	}
}

// TestSendMessageRejectsWhenNotRunning covers the NotRunning error path.
func TestSendMessageRejectsWhenNotRunning(t *testing.T) {
	tr := New(state.NewMachine(), state.NewPeerLink())
	if err := tr.SendMessage([]byte("x")); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

// TestSendMessageRejectsOversizedPayload covers the TooLarge error path.
func TestSendMessageRejectsOversizedPayload(t *testing.T) {
	a, _, _, _ := newPair(t)

	huge := make([]byte, 65507)
	if err := a.SendMessage(huge); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

// TestEnqueueDropsAndClearsAckWhenQueueFull verifies the non-blocking
// backpressure contract: a full send queue drops the frame instead of
// blocking the caller, and clears any pending ACK the dropped frame would
// have carried.
func TestEnqueueDropsAndClearsAckWhenQueueFull(t *testing.T) {
	tr := New(state.NewMachine(), state.NewPeerLink())
	tr.ctx, tr.cancel = context.WithCancel(context.Background())
	defer tr.cancel()

	// Capacity 1, pre-filled, and nothing draining it: the next enqueue
	// must hit the non-blocking default branch.
	tr.sendQueue = make(chan outboundFrame, 1)
	tr.sendQueue <- outboundFrame{}

	const seq = uint32(42)
	tr.trackAck(seq)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	done := make(chan struct{})
	go func() {
		tr.enqueueFrameTo(protocol.TypeMessage, seq, nil, addr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueueFrameTo blocked on a full send queue")
	}

	tr.ackMu.Lock()
	_, stillPending := tr.pendingAcks[seq]
	tr.ackMu.Unlock()
	if stillPending {
		t.Fatal("expected the dropped frame's pending ACK to be cleared")
	}
}
