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

// Package device implements the MAC-to-identity registry and per-device
// state described in spec.md §3/§4.3: the Device Table. It is the only
// owner of Device values; callers borrow one via LookupByID/LookupByMAC.
package device

import (
	"container/ring"
	"sync"
	"time"

	"github.com/pulsegrid/telemetry-collector/pkg/seqtrack"
)

// MAC is a 6-byte hardware address, used as the Device Table's primary
// key (spec.md I1).
type MAC [6]byte

// Status is a Device's place in the lifecycle from spec.md §4.4.
type Status int

const (
	Pending Status = iota
	Active
	Timeout
	Down
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case Timeout:
		return "TIMEOUT"
	case Down:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// maxIntervalSamples bounds the recent_interval_samples ring from
// spec.md §3 ("recent_interval_samples (bounded ring, ≤ 16)"). A fixed,
// small ring has no natural home in any third-party library in this
// pack (see DESIGN.md); container/ring is the standard library's exact
// match for "overwrite the oldest of N slots".
const maxIntervalSamples = 16

// Device is one registered telemetry source. Every mutable field is
// guarded by mu; the Tracker guards itself.
type Device struct {
	MAC     MAC
	ID      uint16
	Tracker *seqtrack.Tracker

	mu            sync.Mutex
	batchSize     uint8
	status        Status
	baseTime      uint32
	baseTimeSet   bool
	lastValue     int16
	lastValueSet  bool
	lastArrival   time.Time
	intervalRing  *ring.Ring
	intervalCount int
}

func newDevice(mac MAC, id uint16, batchSize uint8, windowSize int) *Device {
	return &Device{
		MAC:          mac,
		ID:           id,
		batchSize:    batchSize,
		Tracker:      seqtrack.New(windowSize),
		status:       Pending,
		intervalRing: ring.New(maxIntervalSamples),
	}
}

// BatchSize returns the batch_size last announced for this device,
// e.g. via STARTUP or a reconnection STARTUP.
func (d *Device) BatchSize() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batchSize
}

// SetBatchSize records a newly announced batch_size, e.g. on
// reconnection (spec.md §4.3's register(mac, batch_size)).
func (d *Device) SetBatchSize(batchSize uint8) {
	d.mu.Lock()
	d.batchSize = batchSize
	d.mu.Unlock()
}

func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Device) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// SetBaseTime records base_time as announced by a TIME_SYNC datagram.
func (d *Device) SetBaseTime(baseTime uint32) {
	d.mu.Lock()
	d.baseTime = baseTime
	d.baseTimeSet = true
	d.mu.Unlock()
}

// BaseTime returns the last announced base_time, if any.
func (d *Device) BaseTime() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseTime, d.baseTimeSet
}

// LastValue returns the reconstructed absolute value, if a keyframe has
// ever been seen.
func (d *Device) LastValue() (int16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastValue, d.lastValueSet
}

// SetLastValue records a new absolute value, e.g. from a KEYFRAME.
func (d *Device) SetLastValue(v int16) {
	d.mu.Lock()
	d.lastValue = v
	d.lastValueSet = true
	d.mu.Unlock()
}

// ApplyDelta adds delta to the last known value per spec.md I2. It
// reports ok=false if no keyframe has been seen yet (a protocol
// violation the caller must flag, not crash on).
func (d *Device) ApplyDelta(delta int8) (newValue int16, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.lastValueSet {
		return 0, false
	}
	d.lastValue += int16(delta)
	return d.lastValue, true
}

// RecordArrival stamps the arrival time and pushes the inter-arrival
// interval into the bounded ring (spec.md §4.4 step 5). MeanInterval
// reports whether enough samples exist for a liveness ceiling.
func (d *Device) RecordArrival(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lastArrival.IsZero() {
		interval := now.Sub(d.lastArrival)
		d.intervalRing.Value = interval
		d.intervalRing = d.intervalRing.Next()
		if d.intervalCount < maxIntervalSamples {
			d.intervalCount++
		}
	}
	d.lastArrival = now
}

// LastArrival returns the last recorded arrival wall-clock time.
func (d *Device) LastArrival() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastArrival
}

// MeanInterval returns the mean of the recorded inter-arrival samples
// and whether at least 10 samples exist, per spec.md §4.4's liveness
// timeout rule.
func (d *Device) MeanInterval() (mean time.Duration, enough bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.intervalCount < 10 {
		return 0, false
	}
	var total time.Duration
	n := 0
	d.intervalRing.Do(func(v any) {
		if v == nil {
			return
		}
		total += v.(time.Duration)
		n++
	})
	if n == 0 {
		return 0, false
	}
	return total / time.Duration(n), true
}
