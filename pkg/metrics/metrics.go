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

// Package metrics exposes the collector's operational counters over
// Prometheus, grounded in the teacher's telemetry/prometheus usage from
// pkg/sfu/forwardstats.go (prometheus.RecordForwardJitter/...).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "telemetry_collector"

var (
	DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datagrams_received_total",
		Help:      "Datagrams received on the collector's UDP socket.",
	})

	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Datagrams dropped because they failed to decode, by error code.",
	}, []string{"code"})

	Classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifications_total",
		Help:      "Sequence classification outcomes, by classification.",
	}, []string{"classification"})

	ProtocolViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_violations_total",
		Help:      "Peer protocol violations, by reason (only unknown_device datagrams are dropped).",
	}, []string{"reason"})

	DevicesByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "devices",
		Help:      "Number of devices currently in each lifecycle status.",
	}, []string{"status"})

	LivenessTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liveness_timeouts_total",
		Help:      "Devices transitioned to TIMEOUT by the liveness sweep.",
	})

	SinkOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_sink_overflow_total",
		Help:      "Records dropped because the log sink's bounded queue was full.",
	})

	RecordsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_emitted_total",
		Help:      "Records successfully handed to the log sink.",
	})

	ProcessingLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_latency_ms",
		Help:      "Per-datagram cpu_time_ms, the elapsed processing time per spec.md Record.cpu_time_ms.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	})
)

// NewRegistry returns a private registry (not prometheus.DefaultRegisterer) so
// unit tests can construct a collector without colliding with other
// tests' metric registrations.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		DatagramsReceived,
		DecodeErrors,
		Classifications,
		ProtocolViolations,
		DevicesByStatus,
		LivenessTimeouts,
		SinkOverflows,
		RecordsEmitted,
		ProcessingLatencyMs,
	)
	return r
}
