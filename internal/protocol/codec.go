package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Frame into a byte slice for UDP transmission.
func Encode(pkt *Frame) []byte {
	size := HeaderSize + len(pkt.Payload)
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], PacketVersion)
	buf[6] = pkt.Type
	// buf[7] is the reserved byte, always zero on send.
	binary.BigEndian.PutUint32(buf[8:12], pkt.SeqNum)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(pkt.Payload)))
	if len(pkt.Payload) > 0 {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a byte slice into a Frame. It rejects frames with a
// mismatched magic number or version, a header shorter than HeaderSize, an
// unrecognized frame type, or (for MESSAGE frames only) a declared payload
// length that doesn't match the bytes actually present.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("protocol: frame too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}

	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("protocol: bad magic number: got 0x%08x, want 0x%08x", magic, Magic)
	}

	version := binary.BigEndian.Uint16(data[4:6])
	if version != PacketVersion {
		return nil, fmt.Errorf("protocol: unsupported version: got %d, want %d", version, PacketVersion)
	}

	typ := data[6]
	if !isKnownType(typ) {
		return nil, fmt.Errorf("protocol: unknown frame type 0x%02x", typ)
	}

	pkt := &Frame{
		Type:   typ,
		SeqNum: binary.BigEndian.Uint32(data[8:12]),
	}

	// msg_len is only meaningful for MESSAGE frames; every other type
	// carries no payload and leaves it unvalidated.
	if typ == TypeMessage {
		msgLen := binary.BigEndian.Uint32(data[12:16])
		if int(msgLen) != len(data)-HeaderSize {
			return nil, fmt.Errorf("protocol: declared payload length %d does not match %d bytes present", msgLen, len(data)-HeaderSize)
		}
		if msgLen > 0 {
			pkt.Payload = make([]byte, msgLen)
			copy(pkt.Payload, data[HeaderSize:])
		}
	}

	return pkt, nil
}

func isKnownType(t uint8) bool {
	switch t {
	case TypeHolePunch, TypeHeartbeat, TypeMessage, TypeAck, TypeDisconnect:
		return true
	default:
		return false
	}
}
