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

// Package filesink is this repo's reference RecordWriter: a durable,
// append-only, time-ordered JSONL log. spec.md §1 treats the on-disk
// format as an external collaborator; this is one concrete binding to
// the collector.RecordWriter interface, not a mandated wire format.
package filesink

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jxskiss/base62"
	"golang.org/x/exp/slices"

	"github.com/pulsegrid/telemetry-collector/pkg/collector"
)

// entry is the on-disk JSONL shape. Timestamps are local-time strings
// and cpu_time_ms a non-negative float, per spec.md §6.
type entry struct {
	MessageKind       string  `json:"message_kind"`
	DeviceID          uint16  `json:"device_id"`
	Sequence          uint16  `json:"sequence"`
	DeviceTimestamp   string  `json:"device_timestamp"`
	ArrivalTime       string  `json:"arrival_time"`
	Value             *int16  `json:"value,omitempty"`
	DuplicateFlag     bool    `json:"duplicate_flag"`
	GapFlag           bool    `json:"gap_flag"`
	DelayedFlag       bool    `json:"delayed_flag"`
	ProtocolViolation bool    `json:"protocol_violation,omitempty"`
	PreSync           bool    `json:"pre_sync,omitempty"`
	CPUTimeMs         float64 `json:"cpu_time_ms"`
}

// flushInterval bounds how long a record can sit buffered in memory
// before it reaches disk.
const flushInterval = time.Second

// Sink buffers Records in memory and sorts them by arrival time on each
// Flush, tolerating unsorted arrival per spec.md §6. It never sorts on
// write, only on flush, to keep Write cheap on the hot path. A
// background goroutine flushes on flushInterval so records don't wait
// for Close to reach disk.
type Sink struct {
	mu        sync.Mutex
	buf       []collector.Record
	file      *os.File
	segmentID string

	stop chan struct{}
	done chan struct{}
}

// Open creates (or appends to) a new log segment under dir, named with
// a short base62 id so two segments rolling over in the same second
// never collide.
func Open(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filesink: creating log directory: %w", err)
	}

	id := segmentID()
	path := filepath.Join(dir, fmt.Sprintf("observations-%s.jsonl", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filesink: opening %s: %w", path, err)
	}
	s := &Sink{file: f, segmentID: id, stop: make(chan struct{}), done: make(chan struct{})}
	go s.periodicFlush()
	return s, nil
}

func (s *Sink) periodicFlush() {
	defer close(s.done)
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = s.Flush()
		case <-s.stop:
			return
		}
	}
}

func segmentID() string {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], rand.Uint64())
	return base62.EncodeToString(raw[:])
}

// Write buffers r for the next Flush. It never blocks on I/O.
func (s *Sink) Write(r collector.Record) error {
	s.mu.Lock()
	s.buf = append(s.buf, r)
	s.mu.Unlock()
	return nil
}

// Flush sorts the buffered records by arrival time and appends them to
// the segment file as JSON lines.
func (s *Sink) Flush() error {
	s.mu.Lock()
	pending := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	slices.SortFunc(pending, func(a, b collector.Record) int {
		return a.ArrivalTime.Compare(b.ArrivalTime)
	})

	w := bufio.NewWriter(s.file)
	enc := json.NewEncoder(w)
	for _, r := range pending {
		if err := enc.Encode(toEntry(r)); err != nil {
			return fmt.Errorf("filesink: encoding record: %w", err)
		}
	}
	return w.Flush()
}

// Close stops the background flusher, flushes any remaining buffered
// records, and closes the segment.
func (s *Sink) Close() error {
	close(s.stop)
	<-s.done
	if err := s.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

func toEntry(r collector.Record) entry {
	return entry{
		MessageKind:       r.Kind,
		DeviceID:          r.DeviceID,
		Sequence:          r.Sequence,
		DeviceTimestamp:   r.DeviceTimestamp.Local().Format(time.RFC3339Nano),
		ArrivalTime:       r.ArrivalTime.Local().Format(time.RFC3339Nano),
		Value:             r.Value,
		DuplicateFlag:     r.DuplicateFlag,
		GapFlag:           r.GapFlag,
		DelayedFlag:       r.DelayedFlag,
		ProtocolViolation: r.ProtocolViolation,
		PreSync:           r.PreSync,
		CPUTimeMs:         r.CPUTimeMs,
	}
}
