package bridge

import (
	"net"
	"testing"
)

// ipv4Packet builds a minimal 20-byte IPv4 header with the given
// source/destination addresses, enough for the bridge's dispatch logic.
func ipv4Packet(src, dst string) []byte {
	buf := make([]byte, 20)
	buf[0] = 0x45 // version 4, IHL 5
	copy(buf[12:16], net.ParseIP(src).To4())
	copy(buf[16:20], net.ParseIP(dst).To4())
	return buf
}

func TestOutboundForwardsToPeer(t *testing.T) {
	peer := net.ParseIP("10.0.0.2")
	pkt := ipv4Packet("10.0.0.1", "10.0.0.2")
	if !Outbound(pkt, peer) {
		t.Fatal("expected outbound packet addressed to the peer to be forwarded")
	}
}

func TestOutboundDropsUnrelatedUnicast(t *testing.T) {
	peer := net.ParseIP("10.0.0.2")
	pkt := ipv4Packet("10.0.0.1", "10.0.0.3")
	if Outbound(pkt, peer) {
		t.Fatal("expected packet to an unrelated unicast address to be dropped")
	}
}

func TestOutboundForwardsBroadcast(t *testing.T) {
	peer := net.ParseIP("10.0.0.2")
	for _, dst := range []string{"10.0.0.255", "255.255.255.255"} {
		pkt := ipv4Packet("10.0.0.1", dst)
		if !Outbound(pkt, peer) {
			t.Fatalf("expected broadcast to %s to be forwarded", dst)
		}
	}
}

// TestMulticastBridging pins down the literal scenario: outbound on A
// (peer_virtual_ip = 10.0.0.2) forwards 224.0.2.60 and drops 10.0.0.3.
func TestMulticastBridging(t *testing.T) {
	peer := net.ParseIP("10.0.0.2")

	multicast := ipv4Packet("10.0.0.1", "224.0.2.60")
	if !Outbound(multicast, peer) {
		t.Fatal("expected multicast packet to be forwarded")
	}

	unrelated := ipv4Packet("10.0.0.1", "10.0.0.3")
	if Outbound(unrelated, peer) {
		t.Fatal("expected unrelated unicast packet to be dropped")
	}
}

func TestInboundDeliversToLocal(t *testing.T) {
	local := net.ParseIP("10.0.0.1")
	pkt := ipv4Packet("10.0.0.2", "10.0.0.1")
	if !Inbound(pkt, local) {
		t.Fatal("expected packet addressed to local VIP to be delivered")
	}
}

func TestInboundDropsNonMatching(t *testing.T) {
	local := net.ParseIP("10.0.0.1")
	pkt := ipv4Packet("10.0.0.2", "10.0.0.9")
	if Inbound(pkt, local) {
		t.Fatal("expected non-matching unicast packet to be dropped")
	}
}

func TestBridgeRejectsNonIPv4(t *testing.T) {
	peer := net.ParseIP("10.0.0.2")
	local := net.ParseIP("10.0.0.1")

	short := make([]byte, 10)
	if Outbound(short, peer) || Inbound(short, local) {
		t.Fatal("expected buffers shorter than 20 bytes to be dropped")
	}

	notIPv4 := ipv4Packet("10.0.0.1", "10.0.0.2")
	notIPv4[0] = 0x60 // IPv6 version nibble
	if Outbound(notIPv4, peer) || Inbound(notIPv4, local) {
		t.Fatal("expected non-IPv4 version nibble to be dropped")
	}
}
