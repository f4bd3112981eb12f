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
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gammazero/workerpool"
	"golang.org/x/sync/errgroup"

	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/device"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
	"github.com/pulsegrid/telemetry-collector/pkg/metrics"
)

// livenessSweepInterval is how often the I/O Loop checks every ACTIVE
// device's mean inter-arrival interval against spec.md §4.4's liveness
// rule (timeout = 10 * mean(recent_interval_samples) once >= 10 samples
// exist). spec.md requires this to run "at least once a second".
const livenessSweepInterval = time.Second

// maxDatagramSize is larger than any datagram this protocol defines
// (header + the largest BATCHED_DATA payload a sane MTU can carry);
// oversized reads are truncated by the kernel, not by us, and then
// rejected by codec.Decode's payload_length check.
const maxDatagramSize = 65507

// hostStatsEverySweeps samples host CPU/memory once per this many
// liveness sweeps (~every 10s at the default 1s sweep interval), so
// operators can correlate overflow/timeout spikes with collector-side
// resource pressure without sampling on every sweep tick.
const hostStatsEverySweeps = 10

// IOLoop owns the UDP socket, fans inbound datagrams out to a Session,
// and drives the periodic liveness sweep. It is the teacher's
// listen-loop-plus-ticker shape (pkg/sfu/streamtrackermanager.go's
// core.Fuse-gated goroutine), generalized from RTP packets to this
// protocol's datagrams.
type IOLoop struct {
	conn    *net.UDPConn
	session *Session
	table   *device.Table
	sink    LogSink
	clk     clock.Clock
	log     *logger.Logger

	dispatch *workerpool.WorkerPool

	closed core.Fuse

	sweeps uint64
}

// defaultWorkerPoolSize is used when a caller passes a non-positive
// workerPoolSize, keeping at least one dispatch worker.
const defaultWorkerPoolSize = 8

// NewIOLoop binds a UDP socket at addr (e.g. ":8900") and wires it to
// session. The socket is not yet reading; call Run.
func NewIOLoop(addr string, session *Session, table *device.Table, sink LogSink, clk clock.Clock, log *logger.Logger, workerPoolSize int) (*IOLoop, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("collector: resolving listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("collector: binding %q: %w", addr, err)
	}
	return NewIOLoopFromConn(conn, session, table, sink, clk, log, workerPoolSize), nil
}

// NewIOLoopFromConn wires an already-bound UDP socket, for callers
// (such as the DI-assembled cmd/collector) that need the bound
// *net.UDPConn themselves, e.g. to also pass it as the Session's
// Transport for STARTUP_ACK. workerPoolSize sizes the dispatch pool
// that HandleDatagram calls run on (spec.md §5's "one worker goroutine
// per device" permission, generalized to a fixed-size shared pool
// rather than one goroutine per device id); a non-positive value falls
// back to defaultWorkerPoolSize.
func NewIOLoopFromConn(conn *net.UDPConn, session *Session, table *device.Table, sink LogSink, clk clock.Clock, log *logger.Logger, workerPoolSize int) *IOLoop {
	if workerPoolSize <= 0 {
		workerPoolSize = defaultWorkerPoolSize
	}
	return &IOLoop{
		conn:     conn,
		session:  session,
		table:    table,
		sink:     sink,
		clk:      clk,
		log:      log,
		dispatch: workerpool.New(workerPoolSize),
		closed:   core.NewFuse(),
	}
}

// LocalAddr reports the bound socket address, useful when addr was
// ":0" (tests pick an ephemeral port).
func (l *IOLoop) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Run blocks, reading datagrams and driving the liveness sweep, until
// ctx is canceled or Close is called. It never returns a non-nil error
// for a clean shutdown.
func (l *IOLoop) Run(ctx context.Context) error {
	if sinker, ok := l.sink.(interface{ Start() }); ok {
		sinker.Start()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.readLoop()
		return nil
	})

	g.Go(func() error {
		return l.sweepLoop(ctx)
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-l.closed.Watch():
		}
		l.conn.Close()
	}()

	err := g.Wait()
	l.closed.Break()
	l.dispatch.StopWait()
	<-l.sink.Close()
	return err
}

// Close unblocks Run and releases the socket.
func (l *IOLoop) Close() {
	l.closed.Break()
}

func (l *IOLoop) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closed.Watch():
				return
			default:
			}
			if isClosedConnError(err) {
				return
			}
			l.log.Warnw("udp read error", "error", err)
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		l.dispatch.Submit(func() {
			l.session.HandleDatagram(datagram, addr)
		})
	}
}

func (l *IOLoop) sweepLoop(ctx context.Context) error {
	ticker := l.clk.NewTicker(livenessSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.closed.Watch():
			return nil
		case <-ticker.C():
			l.sweep()
		}
	}
}

// sweep implements spec.md §4.4's liveness rule: an ACTIVE device whose
// time since last arrival exceeds 10 * mean(recent_interval_samples)
// transitions to TIMEOUT. Devices with fewer than 10 samples are never
// timed out (spec.md's explicit floor on the rule).
func (l *IOLoop) sweep() {
	l.sweeps++
	if l.sweeps%hostStatsEverySweeps == 0 {
		stats := metrics.SampleHostStats(l.log)
		l.log.Infow("host stats", "cpu_user", stats.CPUUser, "cpu_sys", stats.CPUSys, "mem_used", stats.MemUsed, "mem_total", stats.MemTotal)
	}

	now := l.clk.Now()
	statusCounts := map[device.Status]int{}

	for _, dev := range l.table.Snapshot() {
		status := dev.Status()
		statusCounts[status]++

		if status != device.Active {
			continue
		}
		mean, enough := dev.MeanInterval()
		if !enough {
			continue
		}
		threshold := mean * 10
		if now.Sub(dev.LastArrival()) <= threshold {
			continue
		}

		if !l.session.expireToTimeout(dev.ID) {
			continue
		}
		metrics.LivenessTimeouts.Inc()
		l.log.Infow("device timed out", "device_id", dev.ID, "mean_interval", mean, "threshold", threshold)

		l.session.emit(Record{
			Kind:            TimeoutSynthetic,
			DeviceID:        dev.ID,
			ArrivalTime:     now,
			DeviceTimestamp: now,
		})
	}

	for status, count := range statusCounts {
		metrics.DevicesByStatus.WithLabelValues(status.String()).Set(float64(count))
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
