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

// Package collector implements the server-side receive state machine
// (spec.md §4.4, "Server Session") and its UDP I/O loop (§4.5): the
// pieces that consume classified datagrams, reconstruct per-device
// value streams, and emit Records to a log sink.
package collector

import (
	"time"

	"github.com/pulsegrid/telemetry-collector/pkg/codec"
)

// TimeoutSynthetic is a local, never-on-the-wire Record.Kind emitted by
// the liveness sweep, per spec.md §4.4 ("implementation-defined local
// kind; not on the wire").
const TimeoutSynthetic = "TIMEOUT_SYNTHETIC"

// Record is one processed observation, emitted per spec.md §3. It is a
// short-lived value: construct it, hand it to a LogSink, and forget it.
type Record struct {
	Kind            string // codec.MessageKind.String(), or TimeoutSynthetic
	DeviceID        uint16
	Sequence        uint16
	DeviceTimestamp time.Time
	ArrivalTime     time.Time

	// Value is nil when the message kind carries no absolute value
	// (HEARTBEAT, TIME_SYNC, SHUTDOWN) or when a DATA_DELTA arrived
	// before any keyframe (spec.md §4.4 step 6, "protocol-violation").
	Value *int16

	DuplicateFlag bool
	GapFlag       bool
	DelayedFlag   bool

	// ProtocolViolation marks a delta received before any keyframe.
	ProtocolViolation bool
	// PreSync marks a data message processed in PENDING before any
	// TIME_SYNC was received (spec.md §4.4's PENDING transition note).
	PreSync bool

	CPUTimeMs float64
}

func kindName(k codec.MessageKind) string { return k.String() }
