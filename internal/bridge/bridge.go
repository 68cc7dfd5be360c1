// Package bridge implements the pure packet-filtering dispatch that sits
// between the virtual network device and the UDP transport.
package bridge

import (
	"net"

	"golang.org/x/net/ipv4"
)

var (
	broadcastSubnet  = net.IPv4(10, 0, 0, 255).To4()
	broadcastLimited = net.IPv4(255, 255, 255, 255).To4()
)

// parseDst parses buf as an IPv4 header and returns its destination
// address, or nil if buf isn't a well-formed IPv4 packet. The bridge never
// looks above the IP layer.
func parseDst(buf []byte) net.IP {
	h, err := ipv4.ParseHeader(buf)
	if err != nil || h.Version != ipv4.Version {
		return nil
	}
	return h.Dst
}

func isBroadcast(dst net.IP) bool {
	return dst.Equal(broadcastSubnet) || dst.Equal(broadcastLimited)
}

func isMulticast(dst net.IP) bool {
	d := dst.To4()
	return d != nil && d[0]>>4 == 0b1110
}

// Outbound decides whether an IPv4 packet read from the tunnel device
// should be forwarded to peerVIP over the transport.
func Outbound(buf []byte, peerVIP net.IP) bool {
	dst := parseDst(buf)
	if dst == nil {
		return false
	}
	return dst.Equal(peerVIP.To4()) || isBroadcast(dst) || isMulticast(dst)
}

// Inbound decides whether an IPv4 packet received from the transport
// should be delivered to the tunnel device.
func Inbound(buf []byte, localVIP net.IP) bool {
	dst := parseDst(buf)
	if dst == nil {
		return false
	}
	return dst.Equal(localVIP.To4()) || isBroadcast(dst) || isMulticast(dst)
}
