package transport

import (
	"errors"
	"net"

	"github.com/peerbridge/peerbridge/internal/protocol"
	"github.com/peerbridge/peerbridge/internal/state"
	"github.com/peerbridge/peerbridge/internal/util"
)

func allPeersDisconnectedEvent() state.Event {
	return state.Event{Kind: state.EventAllPeersDisconnected}
}

func peerConnectedEvent(addr *net.UDPAddr) state.Event {
	return state.Event{Kind: state.EventPeerConnected, Endpoint: addr}
}

// isTransientNetError reports whether err is a recoverable read/write
// condition (WouldBlock/TryAgain in the original's async-I/O terms) as
// opposed to OperationAborted (shutdown in progress) or a fatal error.
func isTransientNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// receiveLoop continuously re-arms a read into a fresh buffer (never
// reused, so no concurrently-dispatched callback can alias it) and
// dispatches each decoded frame per its type.
func (t *Transport) receiveLoop() {
	defer t.wg.Done()

	for {
		buf := make([]byte, protocol.MaxPacketSize)
		n, senderAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return // OperationAborted: shutdown in progress
			}
			if isTransientNetError(err) {
				continue
			}
			util.LogWarning("transport: fatal receive error: %v", err)
			t.link.SetConnected(false)
			t.machine.QueueEvent(allPeersDisconnectedEvent())
			return
		}

		frame, err := protocol.Decode(buf[:n])
		if err != nil {
			util.LogWarning("transport: dropping malformed frame from %s: %v", senderAddr, err)
			util.LogNet("dropped malformed frame from %s: %v", senderAddr, err)
			continue
		}

		t.link.UpdateActivity()
		util.Stats.AddRecv(n)

		if frame.Type != protocol.TypeDisconnect && !t.link.IsConnected() {
			t.peerEndpoint.Store(senderAddr)
			t.link.SetConnected(true)
			t.machine.QueueEvent(peerConnectedEvent(senderAddr))
		}

		t.dispatch(frame, senderAddr)
	}
}

func (t *Transport) dispatch(frame *protocol.Frame, from *net.UDPAddr) {
	switch frame.Type {
	case protocol.TypeHolePunch, protocol.TypeHeartbeat:
		// activity already refreshed; nothing further to do.

	case protocol.TypeDisconnect:
		util.LogNet("DISCONNECT received from %s", from)
		t.link.SetConnected(false)
		t.machine.QueueEvent(allPeersDisconnectedEvent())

	case protocol.TypeMessage:
		t.enqueueFrameTo(protocol.TypeAck, frame.SeqNum, nil, from)
		if cb := t.onMessage.Load(); cb != nil {
			payload := make([]byte, len(frame.Payload))
			copy(payload, frame.Payload)
			(*cb)(payload)
		}

	case protocol.TypeAck:
		util.LogNet("ACK seq=%d received from %s", frame.SeqNum, from)
		t.untrackAck(frame.SeqNum)

	default:
		// Unreachable: protocol.Decode already rejects unknown types.
		util.LogWarning("transport: dropping frame of unknown type 0x%02x from %s", frame.Type, from)
	}
}
