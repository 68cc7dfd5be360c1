package transport

import (
	"net"

	"github.com/peerbridge/peerbridge/internal/util"
)

// outboundFrame is a pre-encoded wire frame bound for a specific endpoint.
// All sends are asynchronous and non-blocking from the caller's view; the
// single sender goroutine is the only writer on the socket.
type outboundFrame struct {
	data []byte
	addr *net.UDPAddr
	seq  uint32
}

// sendLoop is the single-writer goroutine draining the send queue. A
// WouldBlock-style transient error drops the packet silently (no
// retransmission, per the explicit backpressure policy); any other error
// is treated as fatal and tears the peer link down.
func (t *Transport) sendLoop() {
	defer t.wg.Done()

	for {
		select {
		case frame := <-t.sendQueue:
			n, err := t.conn.WriteToUDP(frame.data, frame.addr)
			if err != nil {
				if isTransientNetError(err) {
					util.LogNet("transient send error to %s, dropping frame seq=%d: %v", frame.addr, frame.seq, err)
					continue
				}
				util.LogWarning("transport: send failed, tearing down link: %v", err)
				util.LogNet("fatal send error to %s, tearing down link: %v", frame.addr, err)
				t.link.SetConnected(false)
				t.machine.QueueEvent(allPeersDisconnectedEvent())
				continue
			}
			util.Stats.AddSent(n)
		case <-t.ctx.Done():
			return
		}
	}
}
