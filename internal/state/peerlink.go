// Package state holds the peer link activity tracker and the system state
// machine shared between the transport and the session supervisor.
package state

import (
	"sync/atomic"
	"time"
)

// PeerLink tracks liveness of the single remote peer. All fields are
// manipulated atomically; readers never block.
type PeerLink struct {
	lastActivity atomic.Int64 // UnixNano of the last valid inbound frame
	connected    atomic.Bool
}

// NewPeerLink returns a PeerLink with its activity clock started now.
func NewPeerLink() *PeerLink {
	pl := &PeerLink{}
	pl.lastActivity.Store(time.Now().UnixNano())
	return pl
}

// UpdateActivity refreshes the last-seen timestamp to now.
func (p *PeerLink) UpdateActivity() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// SetConnected writes the connected flag. Setting it true also refreshes
// activity, mirroring the original's combined update.
func (p *PeerLink) SetConnected(b bool) {
	p.connected.Store(b)
	if b {
		p.UpdateActivity()
	}
}

// IsConnected reports the current connected flag.
func (p *PeerLink) IsConnected() bool {
	return p.connected.Load()
}

// LastActivity returns the last-seen timestamp.
func (p *PeerLink) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

// HasTimedOut reports whether the link is connected and has been silent
// for longer than threshold. An unconnected link never times out.
func (p *PeerLink) HasTimedOut(threshold time.Duration) bool {
	return p.connected.Load() && time.Since(p.LastActivity()) > threshold
}

// DefaultIdleTimeout is the transport's default peer silence threshold.
const DefaultIdleTimeout = 20 * time.Second
