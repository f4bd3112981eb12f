package codec

import "encoding/binary"

// RawPayload carries the three reserved QUANTIZED codes (spec.md §9):
// the wire format for them is unspecified, so the codec treats the
// payload as an opaque byte string a decoder must accept and a caller
// may log, never interpret.
type RawPayload struct {
	kind  MessageKind
	Bytes []byte
}

// NewRawPayload builds a RawPayload for one of the reserved kinds.
func NewRawPayload(kind MessageKind, bytes []byte) RawPayload {
	return RawPayload{kind: kind, Bytes: bytes}
}

func (p RawPayload) Kind() MessageKind { return p.kind }

func isReserved(k MessageKind) bool {
	return k == DataDeltaQuantized || k == KeyframeQuantized || k == BatchedDataQuantized
}

// Decode parses a full datagram (header + payload) as received off the
// wire. It never mutates caller state; it either returns a Header and a
// Payload, or a *DecodeError identifying which of the taxonomy in
// spec.md §7 applies.
func Decode(b []byte) (Header, Payload, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	payload := b[HeaderSize:]
	if len(payload) != int(h.PayloadLength) {
		return Header{}, nil, newDecodeError(ErrPayloadLengthMismatch,
			"header declares %d bytes, got %d", h.PayloadLength, len(payload))
	}

	if isReserved(h.Kind) {
		raw := append([]byte(nil), payload...)
		return h, RawPayload{kind: h.Kind, Bytes: raw}, nil
	}

	p, err := decodePayload(h.Kind, payload)
	if err != nil {
		return Header{}, nil, err
	}
	return h, p, nil
}

// Encode serializes h and p into a single datagram. The header's Kind
// and PayloadLength fields are derived from p; any value the caller set
// on h.Kind is ignored, matching the "payload_length MUST match" and
// "kind is a property of the payload" contract from spec.md §4.1.
func Encode(h Header, p Payload) ([]byte, error) {
	payloadBytes, err := encodePayload(p)
	if err != nil {
		return nil, err
	}
	h.Kind = p.Kind()
	out := encodeHeader(h, len(payloadBytes))
	return append(out, payloadBytes...), nil
}

func decodePayload(kind MessageKind, b []byte) (Payload, error) {
	switch kind {
	case Startup:
		return decodeStartup(b)
	case StartupAck:
		return decodeStartupAck(b)
	case TimeSync:
		if len(b) != 4 {
			return nil, newDecodeError(ErrMalformedPayload, "TIME_SYNC requires 4 bytes, got %d", len(b))
		}
		return TimeSyncPayload{BaseTime: binary.BigEndian.Uint32(b)}, nil
	case Keyframe:
		if len(b) != 2 {
			return nil, newDecodeError(ErrMalformedPayload, "KEYFRAME requires 2 bytes, got %d", len(b))
		}
		return KeyframePayload{Value: int16(binary.BigEndian.Uint16(b))}, nil
	case DataDelta:
		if len(b) != 1 {
			return nil, newDecodeError(ErrMalformedPayload, "DATA_DELTA requires 1 byte, got %d", len(b))
		}
		return DataDeltaPayload{Delta: int8(b[0])}, nil
	case Heartbeat:
		if len(b) != 0 {
			return nil, newDecodeError(ErrMalformedPayload, "HEARTBEAT must be empty, got %d bytes", len(b))
		}
		return HeartbeatPayload{}, nil
	case Shutdown:
		if len(b) != 0 {
			return nil, newDecodeError(ErrMalformedPayload, "SHUTDOWN must be empty, got %d bytes", len(b))
		}
		return ShutdownPayload{}, nil
	case BatchedData, BatchIncomplete:
		entries, err := decodeBatchEntries(b)
		if err != nil {
			return nil, err
		}
		return BatchedDataPayload{Entries: entries, Incomplete: kind == BatchIncomplete}, nil
	default:
		return nil, newDecodeError(ErrUnknownType, "unhandled message kind %d", kind)
	}
}

func decodeStartup(b []byte) (Payload, error) {
	if len(b) != 6 && len(b) != 7 {
		return nil, newDecodeError(ErrMalformedPayload, "STARTUP requires 6 or 7 bytes, got %d", len(b))
	}
	p := StartupPayload{}
	copy(p.MAC[:], b[:6])
	if len(b) == 7 {
		bs := b[6]
		p.BatchSize = &bs
	}
	return p, nil
}

func decodeStartupAck(b []byte) (Payload, error) {
	switch len(b) {
	case 2:
		return StartupAckPayload{DeviceID: binary.BigEndian.Uint16(b)}, nil
	case 4:
		last := binary.BigEndian.Uint16(b[2:4])
		return StartupAckPayload{
			DeviceID:          binary.BigEndian.Uint16(b[0:2]),
			LastKnownSequence: &last,
		}, nil
	default:
		return nil, newDecodeError(ErrMalformedPayload, "STARTUP_ACK requires 2 or 4 bytes, got %d", len(b))
	}
}

// batchEntrySize returns the on-wire size of an entry's value field
// given its type byte (the 3-byte sub_offset+type prefix is not
// included), or 0 with ok=false if the type byte is not recognized.
func batchEntrySize(entryType byte) (size int, ok bool) {
	switch EntryKind(entryType) {
	case EntryKeyframe:
		return 2, true
	case EntryDelta:
		return 1, true
	default:
		return 0, false
	}
}

func decodeBatchEntries(b []byte) ([]BatchEntry, error) {
	var entries []BatchEntry
	i := 0
	for i < len(b) {
		if i+3 > len(b) {
			return nil, newDecodeError(ErrBatchEntryMalformed, "trailing %d bytes too short for an entry header", len(b)-i)
		}
		subOffset := binary.BigEndian.Uint16(b[i : i+2])
		entryType := b[i+2]
		valSize, ok := batchEntrySize(entryType)
		if !ok {
			return nil, newDecodeError(ErrBatchEntryMalformed, "unrecognized batch entry type %d", entryType)
		}
		i += 3
		if i+valSize > len(b) {
			return nil, newDecodeError(ErrBatchEntryMalformed, "trailing partial batch entry value")
		}
		var value int16
		switch EntryKind(entryType) {
		case EntryKeyframe:
			value = int16(binary.BigEndian.Uint16(b[i : i+2]))
		case EntryDelta:
			value = int16(int8(b[i]))
		}
		entries = append(entries, BatchEntry{SubOffset: subOffset, Kind: EntryKind(entryType), Value: value})
		i += valSize
	}
	return entries, nil
}

func encodePayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case StartupPayload:
		out := append([]byte(nil), v.MAC[:]...)
		if v.BatchSize != nil {
			out = append(out, *v.BatchSize)
		}
		return out, nil
	case StartupAckPayload:
		out := make([]byte, 2, 4)
		binary.BigEndian.PutUint16(out, v.DeviceID)
		if v.LastKnownSequence != nil {
			out = binary.BigEndian.AppendUint16(out, *v.LastKnownSequence)
		}
		return out, nil
	case TimeSyncPayload:
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, v.BaseTime)
		return out, nil
	case KeyframePayload:
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(v.Value))
		return out, nil
	case DataDeltaPayload:
		return []byte{byte(v.Delta)}, nil
	case HeartbeatPayload:
		return []byte{}, nil
	case ShutdownPayload:
		return []byte{}, nil
	case BatchedDataPayload:
		var out []byte
		for _, e := range v.Entries {
			head := make([]byte, 3)
			binary.BigEndian.PutUint16(head, e.SubOffset)
			head[2] = byte(e.Kind)
			out = append(out, head...)
			switch e.Kind {
			case EntryKeyframe:
				val := make([]byte, 2)
				binary.BigEndian.PutUint16(val, uint16(e.Value))
				out = append(out, val...)
			case EntryDelta:
				out = append(out, byte(int8(e.Value)))
			default:
				return nil, newDecodeError(ErrBatchEntryMalformed, "unrecognized batch entry kind %d", e.Kind)
			}
		}
		return out, nil
	case RawPayload:
		return append([]byte(nil), v.Bytes...), nil
	default:
		return nil, newDecodeError(ErrMalformedPayload, "unsupported payload type %T", p)
	}
}
