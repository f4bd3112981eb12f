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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bep/debounce"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/codec"
	"github.com/pulsegrid/telemetry-collector/pkg/device"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
	"github.com/pulsegrid/telemetry-collector/pkg/metrics"
	"github.com/pulsegrid/telemetry-collector/pkg/seqtrack"
)

// classifiesAsLive reports whether a classification is one that may
// advance a device's reconstructed value state (spec.md §4.4 step 6:
// NORMAL and DELAYED update last_value; DUPLICATE and OUT_OF_WINDOW
// never do).
func classifiesAsLive(c seqtrack.Classification) bool {
	return c == seqtrack.Normal || c == seqtrack.Delayed
}

// Transport is the minimal outbound capability a Session needs to send
// STARTUP_ACK synchronously (spec.md §4.4). *net.UDPConn satisfies it.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// errorLogSuppressionWindow bounds how often the same (source, error
// code) pair is logged, so a malformed-datagram storm from one device
// cannot drown the log; metrics.DecodeErrors is incremented every time
// regardless.
const errorLogSuppressionWindow = 5 * time.Second

// statusDebounce matches the human-perceptible flap window: a device
// bouncing ACTIVE/TIMEOUT faster than this collapses to one
// notification, per spec.md's liveness sweep running at most once a
// second.
const statusDebounce = 250 * time.Millisecond

// Session drives the per-device receive state machine from spec.md
// §4.4 across every device in a Table. One Session serves an entire
// collector instance; per-device serialization (spec.md §5) is the
// caller's responsibility — the I/O Loop dispatches one datagram at a
// time per device_id.
type Session struct {
	table     *device.Table
	sink      LogSink
	transport Transport
	clk       clock.Clock
	log       *logger.Logger

	errMu   sync.Mutex
	errLast *lru.Cache[string, time.Time]

	statusMu         sync.Mutex
	statusDebouncers map[uint16]func(func())

	// OnStatusChange, if set, is invoked (debounced per device by
	// statusDebounce) whenever a device's lifecycle status changes.
	// cmd/collector leaves it unset; the devices-by-status gauge is
	// refreshed by the I/O Loop's sweep from a Table snapshot instead.
	OnStatusChange func(id uint16, status device.Status)

	// OnRecord, if set, is called synchronously with every Record before
	// it is handed to the LogSink (e.g. the admin websocket's fan-out).
	// It must not block.
	OnRecord func(r Record)
}

// NewSession wires a Session against the given Device Table, log sink,
// outbound transport and clock source.
func NewSession(table *device.Table, sink LogSink, transport Transport, clk clock.Clock, log *logger.Logger) *Session {
	cache, _ := lru.New[string, time.Time](256)
	return &Session{
		table:            table,
		sink:             sink,
		transport:        transport,
		clk:              clk,
		log:              log,
		errLast:          cache,
		statusDebouncers: make(map[uint16]func(func())),
	}
}

// HandleDatagram is the single entry point the I/O Loop calls for every
// received datagram. It never returns an error and never panics on
// malformed input (spec.md §7: the session never propagates a single
// datagram's error upward).
func (s *Session) HandleDatagram(data []byte, addr net.Addr) {
	start := time.Now()
	arrival := s.clk.Now()

	metrics.DatagramsReceived.Inc()

	header, payload, err := codec.Decode(data)
	if err != nil {
		s.handleDecodeError(addr, err)
		return
	}

	if header.Kind == codec.Startup {
		sp, ok := payload.(codec.StartupPayload)
		if !ok {
			return
		}
		s.handleStartup(header, sp, addr, arrival, start)
		return
	}

	dev, ok := s.table.LookupByID(header.DeviceID)
	if !ok {
		metrics.ProtocolViolations.WithLabelValues("unknown_device").Inc()
		s.log.Warnw("data from unknown device_id", "device_id", header.DeviceID, "source", addr)
		return
	}

	switch p := payload.(type) {
	case codec.TimeSyncPayload:
		s.handleTimeSync(dev, header, p, arrival, start)
	case codec.KeyframePayload:
		s.handleSingleValue(dev, header, arrival, start, func(mutate bool) (*int16, bool) {
			if !mutate {
				return currentValue(dev), false
			}
			dev.SetLastValue(p.Value)
			return &p.Value, false
		}, codec.Keyframe)
	case codec.DataDeltaPayload:
		s.handleSingleValue(dev, header, arrival, start, func(mutate bool) (*int16, bool) {
			if !mutate {
				return currentValue(dev), false
			}
			v, ok := dev.ApplyDelta(p.Delta)
			if !ok {
				return nil, true
			}
			return &v, false
		}, codec.DataDelta)
	case codec.HeartbeatPayload:
		s.handleHeartbeat(dev, header, arrival, start)
	case codec.BatchedDataPayload:
		s.handleBatch(dev, header, p, addr, arrival, start)
	case codec.ShutdownPayload:
		s.handleShutdown(dev, header, arrival, start)
	case codec.RawPayload:
		s.handleReserved(dev, header, p, arrival, start)
	default:
		s.log.Warnw("unhandled payload type", "type", fmt.Sprintf("%T", p), "device_id", header.DeviceID)
	}
}

func currentValue(dev *device.Device) *int16 {
	v, ok := dev.LastValue()
	if !ok {
		return nil
	}
	return &v
}

func (s *Session) handleStartup(header codec.Header, p codec.StartupPayload, addr net.Addr, arrival time.Time, start time.Time) {
	batchSize := uint8(1)
	if p.BatchSize != nil {
		batchSize = *p.BatchSize
	}

	id, isReconnection, lastKnown := s.table.Register(device.MAC(p.MAC), batchSize)
	s.setStatus(id, device.Pending)

	ack := codec.StartupAckPayload{DeviceID: id}
	if isReconnection {
		var seq uint16
		if lastKnown != nil {
			seq = *lastKnown
		}
		ack.LastKnownSequence = &seq
	}

	encoded, err := codec.Encode(codec.Header{DeviceID: id}, ack)
	if err != nil {
		s.log.Errorw("failed to encode STARTUP_ACK", "error", err, "device_id", id)
		return
	}
	if _, err := s.transport.WriteTo(encoded, addr); err != nil {
		s.log.Warnw("transient failure sending STARTUP_ACK", "error", err, "device_id", id)
	}

	s.emit(Record{
		Kind:            kindName(codec.Startup),
		DeviceID:        id,
		ArrivalTime:     arrival,
		DeviceTimestamp: arrival,
		CPUTimeMs:       elapsedMs(start),
	})
}

func (s *Session) handleTimeSync(dev *device.Device, header codec.Header, p codec.TimeSyncPayload, arrival, start time.Time) {
	dev.SetBaseTime(p.BaseTime)
	if dev.Status() == device.Pending {
		s.setStatus(dev.ID, device.Active)
	} else if dev.Status() == device.Timeout {
		s.setStatus(dev.ID, device.Active)
	}
	dev.RecordArrival(arrival)

	s.emit(Record{
		Kind:            kindName(codec.TimeSync),
		DeviceID:        dev.ID,
		Sequence:        header.Sequence,
		ArrivalTime:     arrival,
		DeviceTimestamp: arrival,
		CPUTimeMs:       elapsedMs(start),
	})
}

// handleSingleValue covers KEYFRAME and DATA_DELTA: classify the
// sequence, mutate last_value only for NORMAL/DELAYED, and emit one
// Record (spec.md §4.4 step 6).
func (s *Session) handleSingleValue(dev *device.Device, header codec.Header, arrival, start time.Time, apply func(mutate bool) (value *int16, violation bool), kind codec.MessageKind) {
	s.reviveIfTimedOut(dev)
	dev.RecordArrival(arrival)

	class, gap := dev.Tracker.Classify(header.Sequence)
	metrics.Classifications.WithLabelValues(class.String()).Inc()

	value, violation := apply(classifiesAsLive(class))
	if violation {
		metrics.ProtocolViolations.WithLabelValues("delta_before_keyframe").Inc()
	}

	ts, preSync := s.timestampFor(dev, header.TimeOffset, arrival)

	s.emit(Record{
		Kind:              kindName(kind),
		DeviceID:          dev.ID,
		Sequence:          header.Sequence,
		ArrivalTime:       arrival,
		DeviceTimestamp:   ts,
		Value:             value,
		DuplicateFlag:     class == seqtrack.Duplicate || class == seqtrack.OutOfWindow,
		GapFlag:           gap,
		DelayedFlag:       class == seqtrack.Delayed,
		ProtocolViolation: violation,
		PreSync:           preSync,
		CPUTimeMs:         elapsedMs(start),
	})
}

func (s *Session) handleHeartbeat(dev *device.Device, header codec.Header, arrival, start time.Time) {
	s.reviveIfTimedOut(dev)
	dev.RecordArrival(arrival)

	class, gap := dev.Tracker.Classify(header.Sequence)
	metrics.Classifications.WithLabelValues(class.String()).Inc()

	ts, preSync := s.timestampFor(dev, header.TimeOffset, arrival)
	s.emit(Record{
		Kind:            kindName(codec.Heartbeat),
		DeviceID:        dev.ID,
		Sequence:        header.Sequence,
		ArrivalTime:     arrival,
		DeviceTimestamp: ts,
		DuplicateFlag:   class == seqtrack.Duplicate || class == seqtrack.OutOfWindow,
		GapFlag:         gap,
		DelayedFlag:     class == seqtrack.Delayed,
		PreSync:         preSync,
		CPUTimeMs:       elapsedMs(start),
	})
}

// handleBatch disassembles a BATCHED_DATA/BATCH_INCOMPLETE datagram.
// The whole batch shares one sequence number and therefore one
// classification (spec.md I3); each entry still gets its own Record
// and chains through last_value in on-wire order.
func (s *Session) handleBatch(dev *device.Device, header codec.Header, p codec.BatchedDataPayload, addr net.Addr, arrival, start time.Time) {
	s.reviveIfTimedOut(dev)
	dev.RecordArrival(arrival)

	class, gap := dev.Tracker.Classify(header.Sequence)
	metrics.Classifications.WithLabelValues(class.String()).Inc()
	mutateOK := classifiesAsLive(class)

	kind := codec.BatchedData
	if p.Incomplete {
		kind = codec.BatchIncomplete
	}

	baseTime, hasBaseTime := dev.BaseTime()

	for _, entry := range p.Entries {
		var value *int16
		var violation bool

		if entry.Kind == codec.EntryKeyframe {
			v := entry.Value
			if mutateOK {
				dev.SetLastValue(v)
				value = &v
			} else {
				value = currentValue(dev)
			}
		} else {
			delta := int8(entry.Value)
			if mutateOK {
				newVal, ok := dev.ApplyDelta(delta)
				if !ok {
					violation = true
				} else {
					value = &newVal
				}
			} else {
				value = currentValue(dev)
			}
		}

		if violation {
			metrics.ProtocolViolations.WithLabelValues("delta_before_keyframe").Inc()
		}

		var ts time.Time
		preSync := !hasBaseTime
		if hasBaseTime {
			ts = time.Unix(int64(baseTime)+int64(entry.SubOffset), 0).UTC()
		} else {
			ts = arrival
		}

		s.emit(Record{
			Kind:              kindName(kind),
			DeviceID:          dev.ID,
			Sequence:          header.Sequence,
			ArrivalTime:       arrival,
			DeviceTimestamp:   ts,
			Value:             value,
			DuplicateFlag:     class == seqtrack.Duplicate || class == seqtrack.OutOfWindow,
			GapFlag:           gap,
			DelayedFlag:       class == seqtrack.Delayed,
			ProtocolViolation: violation,
			PreSync:           preSync,
			CPUTimeMs:         elapsedMs(start),
		})
	}
}

func (s *Session) handleShutdown(dev *device.Device, header codec.Header, arrival, start time.Time) {
	class, gap := dev.Tracker.Classify(header.Sequence)
	metrics.Classifications.WithLabelValues(class.String()).Inc()
	s.setStatus(dev.ID, device.Down)

	s.emit(Record{
		Kind:            kindName(codec.Shutdown),
		DeviceID:        dev.ID,
		Sequence:        header.Sequence,
		ArrivalTime:     arrival,
		DeviceTimestamp: arrival,
		GapFlag:         gap,
		DuplicateFlag:   class == seqtrack.Duplicate || class == seqtrack.OutOfWindow,
		DelayedFlag:     class == seqtrack.Delayed,
		CPUTimeMs:       elapsedMs(start),
	})
}

func (s *Session) handleReserved(dev *device.Device, header codec.Header, p codec.RawPayload, arrival, start time.Time) {
	s.log.Debugw("reserved quantized message kind received", "kind", p.Kind().String(), "device_id", dev.ID, "bytes", len(p.Bytes))
	class, gap := dev.Tracker.Classify(header.Sequence)
	metrics.Classifications.WithLabelValues(class.String()).Inc()
	metrics.ProtocolViolations.WithLabelValues("reserved_quantized").Inc()

	s.emit(Record{
		Kind:            p.Kind().String(),
		DeviceID:        dev.ID,
		Sequence:        header.Sequence,
		ArrivalTime:     arrival,
		DeviceTimestamp: arrival,
		GapFlag:         gap,
		DuplicateFlag:   class == seqtrack.Duplicate || class == seqtrack.OutOfWindow,
		DelayedFlag:     class == seqtrack.Delayed,
		CPUTimeMs:       elapsedMs(start),
	})
}

// expireToTimeout is called only by the I/O Loop's liveness sweep; it
// reports false if the device no longer exists (already deregistered).
func (s *Session) expireToTimeout(id uint16) bool {
	if err := s.table.ExpireToTimeout(id); err != nil {
		return false
	}
	s.notifyStatus(id, device.Timeout)
	return true
}

func (s *Session) reviveIfTimedOut(dev *device.Device) {
	if dev.Status() == device.Timeout {
		s.setStatus(dev.ID, device.Active)
	}
}

func (s *Session) timestampFor(dev *device.Device, offset uint16, arrival time.Time) (ts time.Time, preSync bool) {
	baseTime, ok := dev.BaseTime()
	if !ok {
		return arrival, true
	}
	return time.Unix(int64(baseTime)+int64(offset), 0).UTC(), false
}

func (s *Session) emit(r Record) {
	if r.Kind != TimeoutSynthetic {
		metrics.ProcessingLatencyMs.Observe(r.CPUTimeMs)
	}
	if s.OnRecord != nil {
		s.OnRecord(r)
	}
	if !s.sink.TryEmit(r) {
		s.log.Debugw("log sink overflow, dropping record", "device_id", r.DeviceID, "kind", r.Kind)
	}
}

func (s *Session) setStatus(id uint16, status device.Status) {
	switch status {
	case device.Pending:
		_ = s.table.MarkPending(id)
	case device.Active:
		_ = s.table.MarkActive(id)
	case device.Timeout:
		_ = s.table.ExpireToTimeout(id)
	case device.Down:
		_ = s.table.MarkDown(id)
	}
	s.notifyStatus(id, status)
}

// notifyStatus debounces OnStatusChange per device so a flapping device
// cannot spam whatever is subscribed.
func (s *Session) notifyStatus(id uint16, status device.Status) {
	if s.OnStatusChange == nil {
		return
	}
	s.statusMu.Lock()
	d, ok := s.statusDebouncers[id]
	if !ok {
		d = debounce.New(statusDebounce)
		s.statusDebouncers[id] = d
	}
	s.statusMu.Unlock()

	d(func() { s.OnStatusChange(id, status) })
}

func (s *Session) handleDecodeError(addr net.Addr, err error) {
	code := decodeErrorCode(err)
	metrics.DecodeErrors.WithLabelValues(code).Inc()

	key := fmt.Sprintf("%s|%s", addr, code)

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if last, ok := s.errLast.Get(key); ok && time.Since(last) < errorLogSuppressionWindow {
		return
	}
	s.errLast.Add(key, time.Now())
	s.log.Warnw("dropping malformed datagram", "source", addr, "code", code)
}

func decodeErrorCode(err error) string {
	switch {
	case errors.Is(err, codec.ErrShort):
		return "short"
	case errors.Is(err, codec.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, codec.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, codec.ErrPayloadLengthMismatch):
		return "payload_length_mismatch"
	case errors.Is(err, codec.ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, codec.ErrBatchEntryMalformed):
		return "batch_entry_malformed"
	default:
		return "unknown"
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
