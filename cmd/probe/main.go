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

// Command probe is the client side of the protocol: it simulates one
// telemetry-emitting device end to end (spec.md §4.6/§4.7).
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pulsegrid/telemetry-collector/pkg/buildinfo"
	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
	"github.com/pulsegrid/telemetry-collector/pkg/probe"
)

func main() {
	app := &cli.App{
		Name:      "probe",
		Usage:     "simulate one telemetry device against a collector",
		Version:   buildinfo.Version,
		ArgsUsage: "<host>",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "port", Value: 5000, Usage: "collector UDP port"},
			&cli.Float64Flag{Name: "interval", Value: 1.0, Usage: "seconds between samples"},
			&cli.Float64Flag{Name: "duration", Value: 60.0, Usage: "seconds to run before SHUTDOWN"},
			&cli.StringFlag{Name: "mac", Usage: "6-byte MAC, colon-separated (random if omitted)"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "sampler seed"},
			&cli.UintFlag{Name: "batching", Value: 1, Usage: "entries per BATCHED_DATA (1 disables batching)"},
			&cli.IntFlag{Name: "delta-thresh", Value: 2, Usage: "|delta| must exceed this to send DATA_DELTA instead of HEARTBEAT"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "probe:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("exactly one positional argument, <host>, is required", 2)
	}
	host := c.Args().Get(0)

	mac, err := parseMAC(c.String("mac"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	cfg := probe.Config{
		Host:           host,
		Port:           uint16(c.Uint("port")),
		MAC:            mac,
		Interval:       time.Duration(c.Float64("interval") * float64(time.Second)),
		Duration:       time.Duration(c.Float64("duration") * float64(time.Second)),
		Seed:           c.Int64("seed"),
		Batching:       uint8(c.Uint("batching")),
		DeltaThreshold: c.Int("delta-thresh"),
	}

	log := logger.New(c.String("log-level"))
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := probe.NewSession(cfg, clock.System{}, log)
	if err := session.Run(ctx); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	if s == "" {
		if _, err := rand.Read(mac[:]); err != nil {
			return mac, err
		}
		mac[0] |= 0x02 // locally administered, per the usual convention for generated MACs
		return mac, nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return mac, fmt.Errorf("invalid --mac %q: must be a 6-byte MAC address", s)
	}
	copy(mac[:], hw)
	return mac, nil
}
