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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSamplerIsReproducibleGivenSeed(t *testing.T) {
	a := NewSampler(42)
	b := NewSampler(42)

	for i := 0; i < 200; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestSamplerDiffersAcrossSeeds(t *testing.T) {
	a := NewSampler(1)
	b := NewSampler(2)

	diffSeen := false
	for i := 0; i < 50; i++ {
		if a.Next() != b.Next() {
			diffSeen = true
			break
		}
	}
	require.True(t, diffSeen)
}

func TestSamplerStaysWithinInt16Bounds(t *testing.T) {
	s := NewSampler(7)
	for i := 0; i < 100_000; i++ {
		v := s.Next()
		require.GreaterOrEqual(t, int(v), -32768)
		require.LessOrEqual(t, int(v), 32767)
	}
}
