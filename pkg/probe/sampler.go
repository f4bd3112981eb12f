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

// Package probe implements the --probe client: a deterministic sample
// generator (spec.md §4.6) and the session that turns its output into
// wire datagrams at the right cadence (spec.md §4.7).
package probe

import (
	"math/rand"
)

// stepBound is the largest magnitude a single tick's random walk step
// may take. It is arbitrary — spec.md §4.6 only requires the sampler be
// reproducible, not any particular shape.
const stepBound = 9

// Sampler is a seeded bounded random walk over the signed 16-bit range.
// Two Samplers built from the same seed produce byte-identical sample
// sequences (spec.md §4.6's reproducibility contract).
type Sampler struct {
	rng   *rand.Rand
	value int16
}

// NewSampler seeds a Sampler deterministically. The initial value is
// always 0; the first call to Next applies the first step.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Next returns the next sample in the walk, clamped to int16 bounds.
func (s *Sampler) Next() int16 {
	step := int(s.rng.Int31n(2*stepBound+1)) - stepBound
	next := int(s.value) + step
	switch {
	case next > 32767:
		next = 32767
	case next < -32768:
		next = -32768
	}
	s.value = int16(next)
	return s.value
}
