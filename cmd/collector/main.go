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

// Command collector runs the server side of the protocol: it binds a
// UDP socket, reconstructs per-device value streams, and serves an
// admin HTTP surface (spec.md §4.4/§4.5/§6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/pulsegrid/telemetry-collector/pkg/buildinfo"
	"github.com/pulsegrid/telemetry-collector/pkg/config"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:    "collector",
		Usage:   "UDP telemetry collector",
		Version: buildinfo.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "host", Usage: "bind address"},
			&cli.UintFlag{Name: "port", Usage: "UDP port"},
			&cli.StringFlag{Name: "log-directory", Usage: "where the log sink writes"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug|info|warn|error"},
			&cli.StringFlag{Name: "admin-addr", Usage: "admin HTTP bind address"},
		},
		Action: run,
		Commands: []*cli.Command{
			statusCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "collector:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if h := c.String("host"); h != "" {
		cfg.Host = h
	}
	if p := c.Uint("port"); p != 0 {
		cfg.Port = uint16(p)
	}
	if d := c.String("log-directory"); d != "" {
		cfg.LogDirectory = d
	}
	if l := c.String("log-level"); l != "" {
		cfg.LogLevel = l
	}
	if a := c.String("admin-addr"); a != "" {
		cfg.AdminAddr = a
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync() //nolint:errcheck

	app, cleanup, err := BuildApp(cfg, log)
	if err != nil {
		return errors.Wrap(err, "collector: startup failed")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("collector listening",
		"addr", cfg.Addr(),
		"admin_addr", cfg.AdminAddr,
		"version", buildinfo.Version,
		"max_packet_size", humanize.Bytes(uint64(cfg.MaxPacketSize)),
	)
	if err := app.Run(ctx); err != nil {
		return errors.Wrap(err, "collector")
	}
	log.Infow("collector shut down cleanly")
	return nil
}
