// Package tundev wraps a TUN virtual network device. It only opens,
// reads, writes, and closes the device — bringing the interface up with
// an address and routes is internal/netconfig's job.
package tundev

import (
	"fmt"

	"github.com/songgao/water"
)

// DefaultName is the interface name used when no override is configured.
const DefaultName = "PeerBridge"

// Device is an open TUN interface carrying raw IPv4 packets.
type Device struct {
	iface *water.Interface
}

// Open creates a TUN device with the given interface name. An empty name
// falls back to DefaultName.
func Open(name string) (*Device, error) {
	if name == "" {
		name = DefaultName
	}

	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tundev: open %s: %w", name, err)
	}

	return &Device{iface: iface}, nil
}

// Name returns the kernel-assigned interface name (may differ from the
// name requested at Open, depending on platform).
func (d *Device) Name() string {
	return d.iface.Name()
}

// Send writes a raw IP packet to the device.
func (d *Device) Send(pkt []byte) error {
	_, err := d.iface.Write(pkt)
	return err
}

// Receive reads one raw IP packet from the device into buf, returning the
// number of bytes read.
func (d *Device) Receive(buf []byte) (int, error) {
	return d.iface.Read(buf)
}

// Close releases the device.
func (d *Device) Close() error {
	return d.iface.Close()
}
