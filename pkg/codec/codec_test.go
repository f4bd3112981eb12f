package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllKinds(t *testing.T) {
	batchSize := uint8(5)
	lastSeq := uint16(42)

	cases := []struct {
		name string
		h    Header
		p    Payload
	}{
		{"startup-no-batch", Header{DeviceID: 0, Sequence: 0}, StartupPayload{MAC: [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFE}}},
		{"startup-batch", Header{}, StartupPayload{MAC: [6]byte{1, 2, 3, 4, 5, 6}, BatchSize: &batchSize}},
		{"startup-ack-new", Header{}, StartupAckPayload{DeviceID: 7}},
		{"startup-ack-reconnect", Header{}, StartupAckPayload{DeviceID: 7, LastKnownSequence: &lastSeq}},
		{"time-sync", Header{}, TimeSyncPayload{BaseTime: 1_700_000_000}},
		{"keyframe", Header{}, KeyframePayload{Value: -32768}},
		{"keyframe-max", Header{}, KeyframePayload{Value: 32767}},
		{"data-delta-min", Header{}, DataDeltaPayload{Delta: -128}},
		{"data-delta-max", Header{}, DataDeltaPayload{Delta: 127}},
		{"heartbeat", Header{}, HeartbeatPayload{}},
		{"shutdown", Header{}, ShutdownPayload{}},
		{"batched-data", Header{}, BatchedDataPayload{Entries: []BatchEntry{
			{SubOffset: 1, Kind: EntryDelta, Value: 5},
			{SubOffset: 2, Kind: EntryKeyframe, Value: 500},
		}}},
		{"batch-incomplete", Header{}, BatchedDataPayload{Incomplete: true, Entries: []BatchEntry{
			{SubOffset: 1, Kind: EntryDelta, Value: -3},
		}}},
		{"reserved-quantized", Header{}, NewRawPayload(KeyframeQuantized, []byte{1, 2, 3})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.h, tc.p)
			require.NoError(t, err)

			h, p, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tc.p.Kind(), h.Kind)
			require.Equal(t, tc.p, p)

			reEncoded, err := Encode(h, p)
			require.NoError(t, err)
			require.Equal(t, encoded, reEncoded)
		})
	}
}

func TestDecodeShort(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShort))
}

func TestDecodeVersionMismatch(t *testing.T) {
	h, _ := Encode(Header{}, HeartbeatPayload{})
	h[0] = (2 << 4) | byte(Heartbeat)
	_, _, err := Decode(h)
	require.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestDecodeUnknownType(t *testing.T) {
	h, _ := Encode(Header{}, HeartbeatPayload{})
	h[0] = (ProtocolVersion << 4) | 0x0f // beyond BatchIncomplete
	_, _, err := Decode(h)
	require.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecodePayloadLengthMismatch(t *testing.T) {
	encoded, err := Encode(Header{}, TimeSyncPayload{BaseTime: 1})
	require.NoError(t, err)
	encoded[7] = 99 // lie about payload length
	_, _, err = Decode(encoded)
	require.True(t, errors.Is(err, ErrPayloadLengthMismatch))
}

func TestDecodeMalformedPayload(t *testing.T) {
	encoded, err := Encode(Header{}, KeyframePayload{Value: 1})
	require.NoError(t, err)
	// truncate the keyframe value to 1 byte and fix up payload_length
	encoded = encoded[:HeaderSize+1]
	encoded[7] = 1
	_, _, err = Decode(encoded)
	require.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestDecodeBatchEntryMalformedTrailingPartial(t *testing.T) {
	encoded, err := Encode(Header{}, BatchedDataPayload{Entries: []BatchEntry{
		{SubOffset: 1, Kind: EntryDelta, Value: 1},
		{SubOffset: 2, Kind: EntryKeyframe, Value: 500},
	}})
	require.NoError(t, err)
	// chop off the last byte of the trailing keyframe entry's value
	truncated := encoded[:len(encoded)-1]
	truncated[7] = byte(len(truncated) - HeaderSize)
	_, _, err = Decode(truncated)
	require.True(t, errors.Is(err, ErrBatchEntryMalformed))
}

func TestDecodeBatchEntryMalformedUnknownType(t *testing.T) {
	encoded, err := Encode(Header{}, BatchedDataPayload{Entries: []BatchEntry{
		{SubOffset: 1, Kind: EntryDelta, Value: 1},
	}})
	require.NoError(t, err)
	encoded[HeaderSize+2] = 9 // corrupt the entry type byte
	_, _, err = Decode(encoded)
	require.True(t, errors.Is(err, ErrBatchEntryMalformed))
}

func TestBatchFillsPayloadExactly(t *testing.T) {
	// B2: entries filling payload_length exactly are valid.
	encoded, err := Encode(Header{}, BatchedDataPayload{Entries: []BatchEntry{
		{SubOffset: 0, Kind: EntryDelta, Value: 1},
		{SubOffset: 1, Kind: EntryDelta, Value: -2},
		{SubOffset: 2, Kind: EntryDelta, Value: 3},
	}})
	require.NoError(t, err)
	_, p, err := Decode(encoded)
	require.NoError(t, err)
	batch := p.(BatchedDataPayload)
	require.Len(t, batch.Entries, 3)
}
