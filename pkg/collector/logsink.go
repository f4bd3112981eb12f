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
	"sync"

	"github.com/gammazero/deque"
	"go.uber.org/atomic"

	"github.com/pulsegrid/telemetry-collector/pkg/logger"
	"github.com/pulsegrid/telemetry-collector/pkg/metrics"
)

// LogSink is the record-emitter collaborator interface from spec.md §1:
// the one interface a Session ever calls. TryEmit must never block
// (spec.md §4.4/§5); a full sink drops the record and counts an
// overflow.
type LogSink interface {
	TryEmit(r Record) bool
	Close() <-chan struct{}
}

// RecordWriter is implemented by whatever durably persists Records
// (spec.md treats the on-disk format as an external collaborator; see
// pkg/collector/filesink for this repo's reference implementation).
type RecordWriter interface {
	Write(r Record) error
}

// QueueSink is a bounded, non-blocking LogSink backed by a deque,
// adapted from the Start/Enqueue/process shape of
// pkg/utils/opsqueue.go in the teacher repo: a single mutex-guarded
// deque, a one-slot wake channel, and a single consumer goroutine.
type QueueSink struct {
	capacity int
	writer   RecordWriter
	log      *logger.Logger

	mu        sync.Mutex
	queue     deque.Deque[Record]
	wake      chan struct{}
	isStarted bool
	isStopped bool
	doneChan  chan struct{}

	overflow atomic.Uint64
	emitted  atomic.Uint64
}

// NewQueueSink builds a QueueSink with room for `capacity` buffered
// records before TryEmit starts reporting overflow.
func NewQueueSink(capacity int, writer RecordWriter, log *logger.Logger) *QueueSink {
	q := &QueueSink{
		capacity: capacity,
		writer:   writer,
		log:      log,
		wake:     make(chan struct{}, 1),
		doneChan: make(chan struct{}),
	}
	q.queue.SetMinCapacity(4)
	return q
}

// Start launches the consumer goroutine. Safe to call once.
func (q *QueueSink) Start() {
	q.mu.Lock()
	if q.isStarted {
		q.mu.Unlock()
		return
	}
	q.isStarted = true
	q.mu.Unlock()

	go q.process()
}

// TryEmit enqueues r without blocking. It returns false, and counts a
// metrics.SinkOverflows, if the queue is at capacity or already
// stopped.
func (q *QueueSink) TryEmit(r Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isStopped || q.queue.Len() >= q.capacity {
		q.overflow.Inc()
		metrics.SinkOverflows.Inc()
		return false
	}

	q.queue.PushBack(r)
	if q.queue.Len() == 1 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// Close stops accepting new records, flushes whatever is already
// queued, and closes the returned channel once the consumer exits.
func (q *QueueSink) Close() <-chan struct{} {
	q.mu.Lock()
	if q.isStopped {
		q.mu.Unlock()
		return q.doneChan
	}
	q.isStopped = true
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return q.doneChan
}

// Overflow reports the lifetime count of records dropped for capacity.
func (q *QueueSink) Overflow() uint64 { return q.overflow.Load() }

func (q *QueueSink) process() {
	defer close(q.doneChan)

	for {
		<-q.wake
		for {
			q.mu.Lock()
			if q.queue.Len() == 0 {
				stop := q.isStopped
				q.mu.Unlock()
				if stop {
					return
				}
				break
			}
			r := q.queue.PopFront()
			q.mu.Unlock()

			if err := q.writer.Write(r); err != nil {
				q.log.Warnw("log sink write failed", "error", err, "device_id", r.DeviceID)
				continue
			}
			q.emitted.Inc()
			metrics.RecordsEmitted.Inc()
		}
	}
}
