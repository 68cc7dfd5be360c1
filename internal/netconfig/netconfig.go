// Package netconfig applies routing and firewall configuration to the
// tunnel interface by shelling out to the Linux `ip` and `iptables`
// commands — the Linux counterparts of the original's Windows `netsh`
// calls. Every step reports success/failure rather than panicking;
// failures are logged here and tolerated, never returned as errors.
package netconfig

import (
	"fmt"
	"os/exec"

	"github.com/peerbridge/peerbridge/internal/util"
)

const (
	virtualSubnet        = "10.0.0.0/24"
	multicastSubnetRange = "224.0.0.0/4"
)

// ConnectionConfig describes the addresses needed to bring the tunnel
// interface up for a single peer.
type ConnectionConfig struct {
	Iface       string // tunnel interface name, e.g. "PeerBridge"
	SelfVIP     string // this endpoint's virtual IP, e.g. "10.0.0.1"
	PeerVIP     string // the peer's virtual IP, e.g. "10.0.0.2"
}

// Result reports which steps of Apply succeeded, so the caller can log a
// degraded-but-running session rather than failing outright.
type Result struct {
	AddressAssigned   bool
	SubnetRouteAdded  bool
	FallbackRouteUsed bool
	ForwardingEnabled bool
	MulticastRouted   bool
	FirewallApplied   bool
}

// Apply brings the tunnel interface up: assigns the local address, installs
// the /24 route (falling back to a /32 host route to the peer on failure),
// enables forwarding, installs the multicast route, and installs firewall
// allow rules. Every command failure is logged and treated as partial
// success; Apply never returns an error.
func Apply(cfg ConnectionConfig) Result {
	var r Result

	r.AddressAssigned = run("ip", "addr", "add", cfg.SelfVIP+"/24", "dev", cfg.Iface)
	if !r.AddressAssigned {
		util.LogWarning("netconfig: failed to assign %s to %s", cfg.SelfVIP, cfg.Iface)
	}

	_ = run("ip", "link", "set", "dev", cfg.Iface, "up")

	r.SubnetRouteAdded = run("ip", "route", "add", virtualSubnet, "dev", cfg.Iface)
	if !r.SubnetRouteAdded {
		util.LogWarning("netconfig: subnet route add failed, falling back to host route to peer")
		r.FallbackRouteUsed = run("ip", "route", "add", cfg.PeerVIP+"/32", "dev", cfg.Iface)
		if !r.FallbackRouteUsed {
			util.LogWarning("netconfig: fallback host route also failed, virtual network may be limited")
		}
	}

	r.ForwardingEnabled = run("sysctl", "-w", "net.ipv4.ip_forward=1")
	if !r.ForwardingEnabled {
		util.LogWarning("netconfig: failed to enable IPv4 forwarding")
	}

	r.MulticastRouted = run("ip", "route", "add", multicastSubnetRange, "dev", cfg.Iface)
	if !r.MulticastRouted {
		util.LogWarning("netconfig: failed to add multicast route, discovery may be limited")
	}

	r.FirewallApplied = applyFirewallRules(cfg.Iface)
	if !r.FirewallApplied {
		util.LogWarning("netconfig: one or more firewall rules failed, connectivity may be limited")
	}

	return r
}

// Remove tears down the routes Apply installed. Like Apply, it is
// best-effort and never returns an error.
func Remove(cfg ConnectionConfig) {
	_ = run("ip", "route", "del", multicastSubnetRange, "dev", cfg.Iface)
	_ = run("ip", "route", "del", cfg.PeerVIP+"/32", "dev", cfg.Iface)
	_ = run("ip", "route", "del", virtualSubnet, "dev", cfg.Iface)
	removeFirewallRules(cfg.Iface)
}

func applyFirewallRules(iface string) bool {
	ok := true
	ok = run("iptables", "-A", "INPUT", "-i", iface, "-s", virtualSubnet, "-j", "ACCEPT") && ok
	ok = run("iptables", "-A", "OUTPUT", "-o", iface, "-d", virtualSubnet, "-j", "ACCEPT") && ok
	ok = run("iptables", "-A", "INPUT", "-i", iface, "-p", "icmp", "-s", virtualSubnet, "-j", "ACCEPT") && ok
	ok = run("iptables", "-A", "INPUT", "-i", iface, "-p", "igmp", "-s", virtualSubnet, "-j", "ACCEPT") && ok
	ok = run("iptables", "-A", "OUTPUT", "-o", iface, "-p", "igmp", "-d", virtualSubnet, "-j", "ACCEPT") && ok
	return ok
}

func removeFirewallRules(iface string) {
	run("iptables", "-D", "OUTPUT", "-o", iface, "-p", "igmp", "-d", virtualSubnet, "-j", "ACCEPT")
	run("iptables", "-D", "INPUT", "-i", iface, "-p", "igmp", "-s", virtualSubnet, "-j", "ACCEPT")
	run("iptables", "-D", "INPUT", "-i", iface, "-p", "icmp", "-s", virtualSubnet, "-j", "ACCEPT")
	run("iptables", "-D", "OUTPUT", "-o", iface, "-d", virtualSubnet, "-j", "ACCEPT")
	run("iptables", "-D", "INPUT", "-i", iface, "-s", virtualSubnet, "-j", "ACCEPT")
}

func run(name string, args ...string) bool {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		util.LogWarning("netconfig: %s failed: %v (%s)", fmt.Sprint(append([]string{name}, args...)), err, out)
		return false
	}
	return true
}
