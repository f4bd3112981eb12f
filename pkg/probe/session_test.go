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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/codec"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// fakeServer acks every STARTUP with device_id 1 and records every
// decoded message kind it receives, in order.
type fakeServer struct {
	conn *net.UDPConn
	kinds chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)

	fs := &fakeServer{conn: conn, kinds: make(chan string, 256)}
	go fs.run()
	return fs
}

func (fs *fakeServer) run() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := fs.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		h, p, err := codec.Decode(buf[:n])
		if err != nil {
			continue
		}
		fs.kinds <- h.Kind.String()
		if sp, ok := p.(codec.StartupPayload); ok {
			_ = sp
			ack, _ := codec.Encode(codec.Header{DeviceID: 1}, codec.StartupAckPayload{DeviceID: 1})
			fs.conn.WriteToUDP(ack, addr)
		}
	}
}

func (fs *fakeServer) addr() *net.UDPAddr { return fs.conn.LocalAddr().(*net.UDPAddr) }

func (fs *fakeServer) close() { fs.conn.Close() }

func TestSessionHandshakeThenShutdown(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	cfg := Config{
		Host:           "127.0.0.1",
		Port:           uint16(fs.addr().Port),
		MAC:            [6]byte{1, 2, 3, 4, 5, 6},
		Interval:       10 * time.Millisecond,
		Duration:       40 * time.Millisecond,
		Seed:           123,
		Batching:       1,
		DeltaThreshold: 2,
	}
	s := NewSession(cfg, clock.System{}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Run(ctx)
	require.NoError(t, err)

	var seen []string
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case k := <-fs.kinds:
			seen = append(seen, k)
		case <-timeout:
			break collect
		default:
			if len(seen) > 0 {
				break collect
			}
		}
	}

	require.NotEmpty(t, seen)
	require.Equal(t, "STARTUP", seen[0])
	require.Equal(t, "TIME_SYNC", seen[1])
	require.Equal(t, "KEYFRAME", seen[2])
	require.Equal(t, "SHUTDOWN", seen[len(seen)-1])
}

func TestSessionBatchesWhenConfigured(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	cfg := Config{
		Host:           "127.0.0.1",
		Port:           uint16(fs.addr().Port),
		MAC:            [6]byte{9, 9, 9, 9, 9, 9},
		Interval:       5 * time.Millisecond,
		Duration:       60 * time.Millisecond,
		Seed:           1,
		Batching:       4,
		DeltaThreshold: 0,
	}
	s := NewSession(cfg, clock.System{}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	foundBatch := false
	timeout := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case k := <-fs.kinds:
			if k == "BATCHED_DATA" || k == "BATCH_INCOMPLETE" {
				foundBatch = true
			}
		case <-timeout:
			break drain
		}
	}
	require.True(t, foundBatch)
}
