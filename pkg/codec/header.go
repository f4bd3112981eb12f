package codec

import "encoding/binary"

// HeaderSize is the fixed, 8-byte datagram header.
const HeaderSize = 8

// Header is the fixed-layout datagram header described in spec.md §3.
// PayloadLength is always the encoded length of the accompanying
// payload; Encode fills it in, callers never set it by hand.
type Header struct {
	Version       byte
	Kind          MessageKind
	DeviceID      uint16
	Sequence      uint16
	TimeOffset    uint16
	PayloadLength uint8
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, newDecodeError(ErrShort, "header requires 8 bytes, got %d", len(b))
	}
	h := Header{
		Version:       b[0] >> 4,
		Kind:          MessageKind(b[0] & 0x0f),
		DeviceID:      binary.BigEndian.Uint16(b[1:3]),
		Sequence:      binary.BigEndian.Uint16(b[3:5]),
		TimeOffset:    binary.BigEndian.Uint16(b[5:7]),
		PayloadLength: b[7],
	}
	if h.Version != ProtocolVersion {
		return Header{}, newDecodeError(ErrVersionMismatch, "unsupported protocol version %d", h.Version)
	}
	if !h.Kind.valid() {
		return Header{}, newDecodeError(ErrUnknownType, "unknown message type code %d", b[0]&0x0f)
	}
	return h, nil
}

func encodeHeader(h Header, payloadLen int) []byte {
	out := make([]byte, HeaderSize)
	out[0] = (ProtocolVersion << 4) | byte(h.Kind)
	binary.BigEndian.PutUint16(out[1:3], h.DeviceID)
	binary.BigEndian.PutUint16(out[3:5], h.Sequence)
	binary.BigEndian.PutUint16(out[5:7], h.TimeOffset)
	out[7] = uint8(payloadLen)
	return out
}
