package transport

import (
	"net"
	"time"

	"github.com/peerbridge/peerbridge/internal/protocol"
	"github.com/peerbridge/peerbridge/internal/state"
	"github.com/peerbridge/peerbridge/internal/util"
)

// holePunchThenKeepAlive sends the initial hole-punch train, then starts
// the steady keep-alive timer. Both run until the transport's context is
// cancelled. Hole-punch frames double as NAT pinhole refresh and
// keep-alive: the first valid frame received from any sender proves
// connectivity (see receiveLoop).
func (t *Transport) holePunchThenKeepAlive(addr *net.UDPAddr) {
	defer t.wg.Done()

	for i := 0; i < holePunchCount; i++ {
		t.sendHolePunch(addr)
		select {
		case <-time.After(holePunchSpace):
		case <-t.ctx.Done():
			return
		}
	}

	t.keepAliveLoop(addr)
}

func (t *Transport) sendHolePunch(addr *net.UDPAddr) {
	seq := t.seqCounter.Add(1)
	util.LogNet("hole_punch seq=%d -> %s", seq, addr)
	t.enqueueFrameTo(protocol.TypeHolePunch, seq, nil, addr)
}

// keepAliveLoop re-arms every 3s. Each tick sends a HOLE_PUNCH and, if the
// peer link is connected, evaluates the 20s idle timeout.
func (t *Transport) keepAliveLoop(addr *net.UDPAddr) {
	ticker := time.NewTicker(keepAliveTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sendHolePunch(addr)
			if t.link.IsConnected() && t.link.HasTimedOut(state.DefaultIdleTimeout) {
				util.LogNet("peer %s idle-timed-out, tearing down link", addr)
				t.link.SetConnected(false)
				t.machine.QueueEvent(allPeersDisconnectedEvent())
			}
		case <-t.ctx.Done():
			return
		}
	}
}
