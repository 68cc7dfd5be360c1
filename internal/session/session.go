// Package session implements the supervisor that wires STUN discovery,
// signaling, the UDP transport, the tunnel device, and the route/firewall
// applier together, and drives the session lifecycle.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/peerbridge/peerbridge/internal/bridge"
	"github.com/peerbridge/peerbridge/internal/config"
	"github.com/peerbridge/peerbridge/internal/netconfig"
	"github.com/peerbridge/peerbridge/internal/signaling"
	"github.com/peerbridge/peerbridge/internal/state"
	"github.com/peerbridge/peerbridge/internal/stun"
	"github.com/peerbridge/peerbridge/internal/transport"
	"github.com/peerbridge/peerbridge/internal/tundev"
	"github.com/peerbridge/peerbridge/internal/util"
)

const (
	virtualSubnet = "10.0.0.0"
	hostVIP       = "10.0.0.1"
	clientVIP     = "10.0.0.2"
)

// Session owns every external collaborator and the shared state machine.
type Session struct {
	cfg config.Config

	machine *state.Machine
	link    *state.PeerLink

	stunClient *stun.Client
	signal     *signaling.Client
	transport  *transport.Transport
	tunnel     *tundev.Device

	mu          sync.Mutex
	isHost      bool
	localVIP    string
	peerVIP     string
	peerName    string
	pendingFrom string

	monitorDone chan struct{}
	shutdownCh  chan struct{}
	shutdownOne sync.Once
}

// New constructs a Session from cfg. It does not perform any I/O.
func New(cfg config.Config) *Session {
	return &Session{
		cfg:         cfg,
		machine:     state.NewMachine(),
		link:        state.NewPeerLink(),
		monitorDone: make(chan struct{}),
		shutdownCh:  make(chan struct{}),
	}
}

// Start runs the initialization sequence: STUN, UDP transport, signaling,
// tunnel, and the monitor task. It aborts and returns an error if any
// step fails.
func (s *Session) Start(ctx context.Context) error {
	// 1. STUN discovery. The socket STUN binds to learn our reflexive
	// address is the same socket the transport hole-punches and sends
	// application traffic on — ownership passes to the transport; it is
	// closed here only if the transport fails to start listening.
	s.stunClient = stun.New(s.cfg.STUNServer)
	pub, conn, err := s.stunClient.DiscoverPublicAddress(s.cfg.LocalPort)
	if err != nil {
		return fmt.Errorf("session: STUN discovery failed: %w", err)
	}
	util.LogInfo("session: public address %s:%d", pub.IP, pub.Port)

	// 2. UDP transport takes ownership of the STUN socket.
	s.transport = transport.New(s.machine, s.link)
	s.transport.OnMessage(s.onTransportMessage)
	if err := s.transport.StartListening(conn); err != nil {
		conn.Close()
		return fmt.Errorf("session: transport listen failed: %w", err)
	}

	// 3. Signaling.
	sig, err := signaling.Connect(ctx, s.cfg.SignalingURL)
	if err != nil {
		return fmt.Errorf("session: signaling connect failed: %w", err)
	}
	s.signal = sig
	s.wireSignalingCallbacks()

	if err := s.signal.Register(s.cfg.Username, pub.IP.String(), pub.Port); err != nil {
		return fmt.Errorf("session: signaling register failed: %w", err)
	}

	// 4. Tunnel adapter.
	tun, err := tundev.Open(s.cfg.IfaceName)
	if err != nil {
		return fmt.Errorf("session: tunnel open failed: %w", err)
	}
	s.tunnel = tun
	go s.tunnelReadLoop()

	// 5. Monitor task.
	go s.monitorLoop()

	return nil
}

// wireSignalingCallbacks installs the four signaling callbacks per the
// supervisor's event-handling table.
func (s *Session) wireSignalingCallbacks() {
	s.signal.OnConnect(func() {
		util.LogInfo("session: signaling connected")
	})

	s.signal.OnPeerConnectionRequest(func(from string) {
		s.mu.Lock()
		s.pendingFrom = from
		s.mu.Unlock()
		util.LogInfo("session: incoming connection request from %q (use /accept or /reject)", from)
	})

	s.signal.OnPeerInfo(func(username, ip string, port int) {
		util.LogInfo("session: peer %q is at %s:%d", username, ip, port)
		if err := s.signal.StartChat(username); err != nil {
			util.LogWarning("session: start-chat failed: %v", err)
		}
	})

	s.signal.OnPeerConnectionInit(func(username, ip string, port int) {
		s.handlePeerConnectionInit(username, ip, port)
	})
}

// handlePeerConnectionInit implements the supervisor's peer_init handler:
// idempotently enter CONNECTING, assign virtual IPs, apply routing, then
// start the transport's hole-punch toward the peer.
func (s *Session) handlePeerConnectionInit(username, ip string, port int) {
	s.machine.SetState(state.Connecting)

	s.mu.Lock()
	if s.isHost {
		s.localVIP, s.peerVIP = hostVIP, clientVIP
	} else {
		s.localVIP, s.peerVIP = clientVIP, hostVIP
	}
	s.peerName = username
	localVIP, peerVIP, iface := s.localVIP, s.peerVIP, s.cfg.IfaceName
	s.mu.Unlock()

	netconfig.Apply(netconfig.ConnectionConfig{
		Iface:   iface,
		SelfVIP: localVIP,
		PeerVIP: peerVIP,
	})

	if err := s.transport.ConnectToPeer(ip, port); err != nil {
		util.LogWarning("session: connect to peer failed: %v", err)
	}
}

// ConnectToPeer implements the supervisor's connect_to_peer(name): refuse
// if already connected, otherwise ask signaling for the peer's address.
func (s *Session) ConnectToPeer(name string) error {
	if s.transport.IsConnected() {
		return fmt.Errorf("session: already connected")
	}
	s.mu.Lock()
	s.isHost = false
	s.mu.Unlock()

	s.machine.SetState(state.Connecting)
	return s.signal.GetPeer(name)
}

// AcceptIncomingRequest accepts the pending chat request, if any.
func (s *Session) AcceptIncomingRequest() error {
	s.mu.Lock()
	s.isHost = true
	s.pendingFrom = ""
	s.mu.Unlock()
	return s.signal.ChatAccept()
}

// RejectIncomingRequest declines the pending chat request, if any.
func (s *Session) RejectIncomingRequest() error {
	s.mu.Lock()
	s.pendingFrom = ""
	s.mu.Unlock()
	return s.signal.ChatDecline()
}

// StopConnection tears the current peer link down and returns to IDLE.
func (s *Session) StopConnection() {
	s.transport.StopConnection()

	s.mu.Lock()
	localVIP, peerVIP, iface := s.localVIP, s.peerVIP, s.cfg.IfaceName
	s.localVIP, s.peerVIP, s.peerName = "", "", ""
	s.mu.Unlock()

	if peerVIP != "" {
		netconfig.Remove(netconfig.ConnectionConfig{Iface: iface, SelfVIP: localVIP, PeerVIP: peerVIP})
	}
}

// RequestShutdown posts SHUTDOWN_REQUESTED to the state machine; the
// monitor loop picks it up and calls Shutdown.
func (s *Session) RequestShutdown() {
	s.machine.QueueEvent(state.Event{Kind: state.EventShutdownRequested})
}

// Shutdown tears down every collaborator. Idempotent.
func (s *Session) Shutdown() {
	s.shutdownOne.Do(func() {
		s.machine.SetState(state.ShuttingDown)
		close(s.shutdownCh)

		if s.tunnel != nil {
			s.tunnel.Close()
		}
		if s.transport != nil {
			s.transport.Shutdown()
		}
		if s.signal != nil {
			s.signal.Close()
		}
	})
}

// Wait blocks until the monitor loop has exited following a shutdown.
func (s *Session) Wait() {
	<-s.monitorDone
}

// IsConnected reports whether a peer link is currently established.
func (s *Session) IsConnected() bool {
	return s.transport.IsConnected()
}

// State returns the current system state.
func (s *Session) State() state.SystemState {
	return s.machine.State()
}

// LocalVirtualIP returns this endpoint's assigned virtual IP, or "" when
// not connected.
func (s *Session) LocalVirtualIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localVIP
}

// PendingRequestFrom returns the username of the most recent incoming
// connection request not yet accepted or rejected, or "" if none.
func (s *Session) PendingRequestFrom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingFrom
}

// monitorLoop drains the state machine's event queue every 250ms and
// drives the transitions described in the supervisor's event table. It
// exits once the state reaches SHUTTING_DOWN.
func (s *Session) monitorLoop() {
	defer close(s.monitorDone)

	for {
		for {
			ev, ok := s.machine.NextEvent()
			if !ok {
				break
			}
			s.handleEvent(ev)
		}

		if s.machine.IsIn(state.ShuttingDown) {
			return
		}

		select {
		case <-time.After(250 * time.Millisecond):
		case <-s.shutdownCh:
			return
		}
	}
}

func (s *Session) handleEvent(ev state.Event) {
	switch ev.Kind {
	case state.EventPeerConnected:
		if s.machine.IsIn(state.Connecting) {
			s.machine.SetState(state.Connected)
			util.Stats.AddConn()
			util.LogSuccess("session: peer connected at %s", ev.Endpoint)
		}
	case state.EventAllPeersDisconnected:
		if s.machine.IsIn(state.Connected) || s.machine.IsIn(state.Connecting) {
			util.Stats.RemoveConn()
			s.StopConnection()
		}
	case state.EventShutdownRequested:
		s.Shutdown()
	}
}

// onTransportMessage is the transport's message callback: decide via the
// inbound bridge whether to deliver to the tunnel device.
func (s *Session) onTransportMessage(payload []byte) {
	s.mu.Lock()
	localVIP := s.localVIP
	s.mu.Unlock()
	if localVIP == "" {
		return
	}

	if bridge.Inbound(payload, net.ParseIP(localVIP)) {
		if err := s.tunnel.Send(payload); err != nil {
			util.LogWarning("session: failed to write packet to tunnel: %v", err)
		}
	}
}

// tunnelReadLoop reads packets from the tunnel device and forwards
// whichever ones the outbound bridge accepts to the transport.
func (s *Session) tunnelReadLoop() {
	buf := make([]byte, 65536)
	for {
		n, err := s.tunnel.Receive(buf)
		if err != nil {
			return // closed
		}

		s.mu.Lock()
		peerVIP := s.peerVIP
		s.mu.Unlock()
		if peerVIP == "" {
			continue
		}

		pkt := buf[:n]
		if bridge.Outbound(pkt, net.ParseIP(peerVIP)) {
			if err := s.transport.SendMessage(pkt); err != nil {
				util.LogWarning("session: failed to send tunnel packet: %v", err)
			}
		}
	}
}
