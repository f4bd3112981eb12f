// Copyright 2026 The Pulsegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collector

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/codec"
	"github.com/pulsegrid/telemetry-collector/pkg/device"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// recordingSink captures every Record handed to it, for assertions.
type recordingSink struct {
	records []Record
}

func (s *recordingSink) TryEmit(r Record) bool {
	s.records = append(s.records, r)
	return true
}
func (s *recordingSink) Close() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeTransport captures bytes written instead of touching a real socket.
type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) WriteTo(b []byte, _ net.Addr) (int, error) {
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

type stubAddr string

func (a stubAddr) Network() string { return "udp" }
func (a stubAddr) String() string  { return string(a) }

func newTestSession() (*Session, *recordingSink, *fakeTransport, *device.Table) {
	table := device.New(0)
	sink := &recordingSink{}
	transport := &fakeTransport{}
	s := NewSession(table, sink, transport, clock.System{}, logger.Nop())
	return s, sink, transport, table
}

func encodeDatagram(t *testing.T, h codec.Header, p codec.Payload) []byte {
	t.Helper()
	b, err := codec.Encode(h, p)
	require.NoError(t, err)
	return b
}

func TestStartupRegistersDeviceAndAcksTwoByteForm(t *testing.T) {
	s, sink, transport, table := newTestSession()
	addr := stubAddr("10.0.0.1:9000")

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	datagram := encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac})
	s.HandleDatagram(datagram, addr)

	require.Len(t, transport.sent, 1)
	_, ackPayload, err := codec.Decode(transport.sent[0])
	require.NoError(t, err)
	ack, ok := ackPayload.(codec.StartupAckPayload)
	require.True(t, ok)
	require.Nil(t, ack.LastKnownSequence)

	dev, ok := table.LookupByMAC(device.MAC(mac))
	require.True(t, ok)
	require.Equal(t, ack.DeviceID, dev.ID)
	require.Equal(t, device.Pending, dev.Status())

	require.Len(t, sink.records, 1)
	require.Equal(t, "STARTUP", sink.records[0].Kind)
}

func TestReconnectionStartupUsesFourByteAck(t *testing.T) {
	s, _, transport, table := newTestSession()
	addr := stubAddr("10.0.0.1:9000")
	mac := [6]byte{9, 9, 9, 9, 9, 9}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))

	// Give the device a tracker head so the reconnection path has a
	// last-known-sequence to report.
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 41}, codec.TimeSyncPayload{BaseTime: 1000}), addr)
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 42}, codec.KeyframePayload{Value: 100}), addr)

	transport.sent = nil
	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)

	require.Len(t, transport.sent, 1)
	_, p, err := codec.Decode(transport.sent[0])
	require.NoError(t, err)
	ack := p.(codec.StartupAckPayload)
	require.NotNil(t, ack.LastKnownSequence)
	require.Equal(t, uint16(42), *ack.LastKnownSequence)
	require.Equal(t, device.Pending, dev.Status())
}

// TestDeltaBeforeKeyframeIsProtocolViolation covers the
// delta-before-keyframe rule: a DATA_DELTA with no prior keyframe must not crash and
// must flag protocol_violation rather than fabricate a value.
func TestDeltaBeforeKeyframeIsProtocolViolation(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.2:9000")
	mac := [6]byte{2, 2, 2, 2, 2, 2}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID}, codec.TimeSyncPayload{BaseTime: 1000}), addr)

	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 1}, codec.DataDeltaPayload{Delta: 5}), addr)

	last := sink.records[len(sink.records)-1]
	require.Equal(t, "DATA_DELTA", last.Kind)
	require.True(t, last.ProtocolViolation)
	require.Nil(t, last.Value)

	_, ok := dev.LastValue()
	require.False(t, ok)
}

// TestDuplicateKeyframeDoesNotAlterState mirrors spec.md's S2 scenario:
// a retransmitted keyframe must be flagged duplicate and never change
// the reconstructed value.
func TestDuplicateKeyframeDoesNotAlterState(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.3:9000")
	mac := [6]byte{3, 3, 3, 3, 3, 3}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID}, codec.TimeSyncPayload{BaseTime: 1000}), addr)

	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 10}, codec.KeyframePayload{Value: 504}), addr)
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 10}, codec.KeyframePayload{Value: 999}), addr)

	v, ok := dev.LastValue()
	require.True(t, ok)
	require.Equal(t, int16(504), v)

	last := sink.records[len(sink.records)-1]
	require.True(t, last.DuplicateFlag)
	require.Equal(t, int16(504), *last.Value)
}

func TestGapFlagSetOnForwardJump(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.4:9000")
	mac := [6]byte{4, 4, 4, 4, 4, 4}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID}, codec.TimeSyncPayload{BaseTime: 1000}), addr)

	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 1}, codec.KeyframePayload{Value: 1}), addr)
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 5}, codec.HeartbeatPayload{}), addr)

	last := sink.records[len(sink.records)-1]
	require.True(t, last.GapFlag)
	require.False(t, last.DuplicateFlag)
}

func TestBatchDisassemblyChainsValuesInOrder(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.5:9000")
	mac := [6]byte{5, 5, 5, 5, 5, 5}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID}, codec.TimeSyncPayload{BaseTime: 1000}), addr)

	sink.records = nil
	batch := codec.BatchedDataPayload{Entries: []codec.BatchEntry{
		{SubOffset: 0, Kind: codec.EntryKeyframe, Value: 100},
		{SubOffset: 1, Kind: codec.EntryDelta, Value: 5},
		{SubOffset: 2, Kind: codec.EntryDelta, Value: -3},
	}}
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 1}, batch), addr)

	require.Len(t, sink.records, 3)
	require.Equal(t, int16(100), *sink.records[0].Value)
	require.Equal(t, int16(105), *sink.records[1].Value)
	require.Equal(t, int16(102), *sink.records[2].Value)

	v, ok := dev.LastValue()
	require.True(t, ok)
	require.Equal(t, int16(102), v)
}

func TestPreSyncDataFallsBackToArrivalTimestamp(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.6:9000")
	mac := [6]byte{6, 6, 6, 6, 6, 6}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))

	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 1, TimeOffset: 50}, codec.KeyframePayload{Value: 9}), addr)

	last := sink.records[len(sink.records)-1]
	require.True(t, last.PreSync)
	require.WithinDuration(t, time.Now(), last.DeviceTimestamp, 2*time.Second)
}

func TestShutdownTransitionsDeviceDown(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.7:9000")
	mac := [6]byte{7, 7, 7, 7, 7, 7}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID}, codec.TimeSyncPayload{BaseTime: 1000}), addr)

	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 1}, codec.ShutdownPayload{}), addr)

	require.Equal(t, device.Down, dev.Status())
	require.Equal(t, "SHUTDOWN", sink.records[len(sink.records)-1].Kind)
}

func TestUnknownDeviceIDIsDroppedSilently(t *testing.T) {
	s, sink, _, _ := newTestSession()
	addr := stubAddr("10.0.0.8:9000")

	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: 999, Sequence: 1}, codec.HeartbeatPayload{}), addr)

	require.Empty(t, sink.records)
}

func TestMalformedDatagramDoesNotPanic(t *testing.T) {
	s, sink, _, _ := newTestSession()
	addr := stubAddr("10.0.0.9:9000")

	require.NotPanics(t, func() {
		s.HandleDatagram([]byte{0xFF}, addr)
	})
	require.Empty(t, sink.records)
}

func TestReservedQuantizedKindIsLoggedNotCrashed(t *testing.T) {
	s, sink, _, table := newTestSession()
	addr := stubAddr("10.0.0.10:9000")
	mac := [6]byte{10, 10, 10, 10, 10, 10}

	s.HandleDatagram(encodeDatagram(t, codec.Header{}, codec.StartupPayload{MAC: mac}), addr)
	dev, _ := table.LookupByMAC(device.MAC(mac))
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID}, codec.TimeSyncPayload{BaseTime: 1000}), addr)

	raw := codec.NewRawPayload(codec.KeyframeQuantized, []byte{1, 2, 3})
	s.HandleDatagram(encodeDatagram(t, codec.Header{DeviceID: dev.ID, Sequence: 1}, raw), addr)

	last := sink.records[len(sink.records)-1]
	require.Equal(t, "KEYFRAME_QUANTIZED", last.Kind)
}
