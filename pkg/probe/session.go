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

package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/codec"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// Config is every --probe knob from spec.md §6's client configuration.
type Config struct {
	Host           string
	Port           uint16
	MAC            [6]byte
	Interval       time.Duration
	Duration       time.Duration
	Seed           int64
	Batching       uint8
	DeltaThreshold int
}

// syncEveryNDataPackets is spec.md §4.7's "every 100 data-carrying
// packets, send a TIME_SYNC" rule.
const syncEveryNDataPackets = 100

// startupRetryAttempts/startupRetryDelay implement spec.md §5's
// "1 second per attempt, 3 attempts" handshake budget.
const startupRetryAttempts = 3

const startupRetryDelay = time.Second

// Session drives one simulated device end to end: handshake, periodic
// sampling, optional batching, and clean shutdown (spec.md §4.7).
type Session struct {
	cfg     Config
	clk     clock.Clock
	log     *logger.Logger
	sampler *Sampler

	conn     *net.UDPConn
	deviceID uint16
	baseTime uint32

	sequence      uint16
	packetCounter uint64
	dataPackets   uint64

	lastSentValue    int16
	lastSentValueSet bool

	batchBuf []codec.BatchEntry
}

// NewSession builds a Session; it does not yet open a socket.
func NewSession(cfg Config, clk clock.Clock, log *logger.Logger) *Session {
	return &Session{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		sampler: NewSampler(cfg.Seed),
	}
}

// Run executes the full client lifecycle: connect, handshake, sample
// loop until cfg.Duration elapses or ctx is canceled, then flush and
// SHUTDOWN. A non-nil return corresponds to a nonzero process exit code
// per spec.md §6.
func (s *Session) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("probe: resolving %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("probe: dialing %q: %w", addr, err)
	}
	s.conn = conn
	defer conn.Close()

	if err := s.handshake(); err != nil {
		return fmt.Errorf("probe: handshake failed: %w", err)
	}
	s.log.Infow("handshake complete", "device_id", s.deviceID)

	if err := s.sendTimeSync(s.clk.Now()); err != nil {
		return fmt.Errorf("probe: initial TIME_SYNC failed: %w", err)
	}
	if err := s.sendInitialKeyframe(s.clk.Now()); err != nil {
		return fmt.Errorf("probe: initial KEYFRAME failed: %w", err)
	}

	if err := s.runTickLoop(ctx); err != nil {
		return err
	}

	if err := s.flushBatch(true); err != nil {
		s.log.Warnw("failed flushing partial batch on shutdown", "error", err)
	}
	if err := s.sendShutdown(); err != nil {
		return fmt.Errorf("probe: SHUTDOWN send failed: %w", err)
	}
	return nil
}

func (s *Session) runTickLoop(ctx context.Context) error {
	ticker := s.clk.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	deadline := s.clk.Now().Add(s.cfg.Duration)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			if now.After(deadline) {
				return nil
			}
			if err := s.tick(now); err != nil {
				return fmt.Errorf("probe: transmit error: %w", err)
			}
		}
	}
}

func (s *Session) handshake() error {
	payload := codec.StartupPayload{MAC: s.cfg.MAC}
	if s.cfg.Batching > 1 {
		b := s.cfg.Batching
		payload.BatchSize = &b
	}
	encoded, err := codec.Encode(codec.Header{}, payload)
	if err != nil {
		return err
	}

	err = retry.Do(func() error {
		if err := s.conn.SetDeadline(time.Now().Add(startupRetryDelay)); err != nil {
			return err
		}
		if _, err := s.conn.Write(encoded); err != nil {
			return err
		}
		buf := make([]byte, 64)
		n, err := s.conn.Read(buf)
		if err != nil {
			return err
		}
		_, p, err := codec.Decode(buf[:n])
		if err != nil {
			return err
		}
		ack, ok := p.(codec.StartupAckPayload)
		if !ok {
			return fmt.Errorf("probe: expected STARTUP_ACK, got %T", p)
		}
		s.deviceID = ack.DeviceID
		return nil
	},
		retry.Attempts(startupRetryAttempts),
		retry.Delay(startupRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	// Clear the per-attempt deadline so later sends are not cut off by it.
	return s.conn.SetDeadline(time.Time{})
}

func (s *Session) sendTimeSync(now time.Time) error {
	s.baseTime = uint32(now.Unix())
	return s.send(codec.Header{DeviceID: s.deviceID}, codec.TimeSyncPayload{BaseTime: s.baseTime})
}

func (s *Session) sendInitialKeyframe(now time.Time) error {
	value := s.sampler.Next()
	header := codec.Header{DeviceID: s.deviceID, Sequence: s.sequence, TimeOffset: s.offsetSince(now)}
	if err := s.send(header, codec.KeyframePayload{Value: value}); err != nil {
		return err
	}
	s.sequence++
	s.lastSentValue = value
	s.lastSentValueSet = true
	return nil
}

// tick implements spec.md §4.7's per-tick selection rule.
func (s *Session) tick(now time.Time) error {
	s.packetCounter++
	sample := s.sampler.Next()

	delta := int(sample) - int(s.lastSentValue)

	switch {
	case s.packetCounter%10 == 0:
		return s.emitData(now, codec.EntryKeyframe, sample)
	case abs(delta) > 127:
		return s.emitData(now, codec.EntryKeyframe, sample)
	case abs(delta) > s.cfg.DeltaThreshold:
		return s.emitData(now, codec.EntryDelta, int16(delta))
	default:
		return s.sendHeartbeat(now)
	}
}

func (s *Session) emitData(now time.Time, kind codec.EntryKind, value int16) error {
	s.dataPackets++
	if s.dataPackets%syncEveryNDataPackets == 0 {
		if err := s.sendTimeSync(now); err != nil {
			return err
		}
	}

	if kind == codec.EntryKeyframe {
		s.lastSentValue = value
	} else {
		s.lastSentValue += value
	}
	s.lastSentValueSet = true

	if s.cfg.Batching > 1 {
		s.batchBuf = append(s.batchBuf, codec.BatchEntry{
			SubOffset: s.offsetSince(now),
			Kind:      kind,
			Value:     value,
		})
		if len(s.batchBuf) >= int(s.cfg.Batching) {
			return s.flushBatch(false)
		}
		return nil
	}

	header := codec.Header{DeviceID: s.deviceID, Sequence: s.sequence, TimeOffset: s.offsetSince(now)}
	var payload codec.Payload
	if kind == codec.EntryKeyframe {
		payload = codec.KeyframePayload{Value: value}
	} else {
		payload = codec.DataDeltaPayload{Delta: int8(value)}
	}
	if err := s.send(header, payload); err != nil {
		return err
	}
	s.sequence++
	return nil
}

func (s *Session) flushBatch(incomplete bool) error {
	if len(s.batchBuf) == 0 {
		return nil
	}
	entries := s.batchBuf
	s.batchBuf = nil

	header := codec.Header{DeviceID: s.deviceID, Sequence: s.sequence}
	payload := codec.BatchedDataPayload{Entries: entries, Incomplete: incomplete}
	if err := s.send(header, payload); err != nil {
		return err
	}
	s.sequence++
	return nil
}

func (s *Session) sendHeartbeat(now time.Time) error {
	header := codec.Header{DeviceID: s.deviceID, Sequence: s.sequence, TimeOffset: s.offsetSince(now)}
	if err := s.send(header, codec.HeartbeatPayload{}); err != nil {
		return err
	}
	// spec.md §4.7: heartbeats increment the sequence counter when
	// batching is disabled (batch_size == 1) and skip it otherwise.
	if s.cfg.Batching <= 1 {
		s.sequence++
	}
	return nil
}

func (s *Session) sendShutdown() error {
	header := codec.Header{DeviceID: s.deviceID, Sequence: s.sequence}
	return s.send(header, codec.ShutdownPayload{})
}

func (s *Session) send(h codec.Header, p codec.Payload) error {
	b, err := codec.Encode(h, p)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(b)
	return err
}

func (s *Session) offsetSince(now time.Time) uint16 {
	diff := now.Unix() - int64(s.baseTime)
	return uint16(diff)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
