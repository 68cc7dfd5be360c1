// Package stun implements a minimal RFC 5389 binding client: send one
// Binding Request, parse XOR-MAPPED-ADDRESS from the Binding Success
// response, nothing else.
package stun

import (
	"fmt"
	"net"
	"time"

	pionstun "github.com/pion/stun/v3"
)

// DefaultTimeout is how long DiscoverPublicAddress waits for a response.
const DefaultTimeout = 5 * time.Second

// PublicAddress is the reflexive address a STUN server observed for us.
type PublicAddress struct {
	IP   net.IP
	Port int
}

// Client discovers the caller's public address through a single STUN
// server. The zero value is not usable; use New.
type Client struct {
	server string
}

// New returns a Client targeting the given "host:port" STUN server.
func New(server string) *Client {
	return &Client{server: server}
}

// DiscoverPublicAddress binds a UDP socket on localPort (0 for an ephemeral
// port), sends a Binding Request, and parses the XOR-MAPPED-ADDRESS out of
// the Binding Success response. It ignores any attribute other than
// XOR-MAPPED-ADDRESS and rejects anything that isn't a Binding Success
// response.
//
// The bound socket is returned live (deadline cleared) rather than closed:
// per the transport's socket-ownership contract, the same NAT binding that
// was just discovered and reported to the peer is the one hole punching and
// the rest of the session must use, so the caller is expected to hand this
// conn to Transport.StartListening rather than opening a new one.
func (c *Client) DiscoverPublicAddress(localPort int) (*PublicAddress, *net.UDPConn, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", c.server)
	if err != nil {
		return nil, nil, fmt.Errorf("stun: resolve %s: %w", c.server, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, nil, fmt.Errorf("stun: listen: %w", err)
	}

	pub, err := c.discover(conn, serverAddr)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("stun: clear deadline: %w", err)
	}

	return pub, conn, nil
}

func (c *Client) discover(conn *net.UDPConn, serverAddr *net.UDPAddr) (*PublicAddress, error) {
	request, err := pionstun.Build(pionstun.TransactionID, pionstun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("stun: build request: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		return nil, fmt.Errorf("stun: set deadline: %w", err)
	}
	if _, err := conn.WriteToUDP(request.Raw, serverAddr); err != nil {
		return nil, fmt.Errorf("stun: send binding request: %w", err)
	}

	buf := make([]byte, 512)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, fmt.Errorf("stun: read binding response: %w", err)
	}

	response := &pionstun.Message{Raw: buf[:n]}
	if err := response.Decode(); err != nil {
		return nil, fmt.Errorf("stun: decode response: %w", err)
	}
	if response.Type != pionstun.BindingSuccess {
		return nil, fmt.Errorf("stun: unexpected message type %s", response.Type)
	}

	var xorAddr pionstun.XORMappedAddress
	if err := xorAddr.GetFrom(response); err != nil {
		return nil, fmt.Errorf("stun: no XOR-MAPPED-ADDRESS in response: %w", err)
	}

	return &PublicAddress{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}
