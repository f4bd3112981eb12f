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

package metrics

import (
	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"

	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// HostStats is a point-in-time sample of the collector process's host.
// The I/O Loop's sweep writes it to the log (it is not exported as a
// Prometheus metric) so operators can correlate drop/overflow spikes
// with collector-side resource pressure.
type HostStats struct {
	CPUUser  float64
	CPUSys   float64
	MemUsed  uint64
	MemTotal uint64
}

// SampleHostStats reads one CPU/memory snapshot. Errors are logged and
// swallowed: host stats are a diagnostic nicety, never load-bearing for
// the protocol.
func SampleHostStats(log *logger.Logger) HostStats {
	var out HostStats

	if c, err := cpu.Get(); err != nil {
		log.Warnw("host cpu stats unavailable", "error", err)
	} else {
		total := float64(c.Total)
		if total > 0 {
			out.CPUUser = float64(c.User) / total
			out.CPUSys = float64(c.System) / total
		}
	}

	if m, err := memory.Get(); err != nil {
		log.Warnw("host memory stats unavailable", "error", err)
	} else {
		out.MemUsed = m.Used
		out.MemTotal = m.Total
	}

	return out
}
