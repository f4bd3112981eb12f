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

package main

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pulsegrid/telemetry-collector/pkg/adminapi"
	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/collector"
	"github.com/pulsegrid/telemetry-collector/pkg/collector/filesink"
	"github.com/pulsegrid/telemetry-collector/pkg/config"
	"github.com/pulsegrid/telemetry-collector/pkg/device"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
	"github.com/pulsegrid/telemetry-collector/pkg/metrics"
)

// App is the fully wired collector process. It is assembled by
// BuildApp (see wire.go / wire_gen.go) and owned entirely by main.
type App struct {
	Config   config.Config
	Table    *device.Table
	Sink     *collector.QueueSink
	Session  *collector.Session
	IOLoop   *collector.IOLoop
	Admin    *adminapi.Server
	Registry *prometheus.Registry
	Log      *logger.Logger
}

// Run starts the I/O loop and the admin HTTP server and blocks until
// ctx is canceled or either returns an error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.IOLoop.Run(ctx) })
	g.Go(func() error { return a.Admin.Run(ctx) })
	return g.Wait()
}

func provideTable(cfg config.Config) *device.Table {
	return device.New(cfg.WindowSize)
}

func provideWriter(cfg config.Config) (collector.RecordWriter, error) {
	return filesink.Open(cfg.LogDirectory)
}

func provideSink(cfg config.Config, writer collector.RecordWriter, log *logger.Logger) *collector.QueueSink {
	return collector.NewQueueSink(cfg.SinkCapacity, writer, log)
}

func provideUDPConn(cfg config.Config) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("collector: resolving %q: %w", cfg.Addr(), err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("collector: binding %q: %w", cfg.Addr(), err)
	}
	return conn, nil
}

func provideTransport(conn *net.UDPConn) collector.Transport {
	return conn
}

func provideSession(table *device.Table, sink *collector.QueueSink, transport collector.Transport, clk clock.Clock, log *logger.Logger) *collector.Session {
	return collector.NewSession(table, sink, transport, clk, log)
}

func provideIOLoop(cfg config.Config, conn *net.UDPConn, session *collector.Session, table *device.Table, sink *collector.QueueSink, clk clock.Clock, log *logger.Logger) *collector.IOLoop {
	return collector.NewIOLoopFromConn(conn, session, table, sink, clk, log, cfg.WorkerPoolSize)
}

func provideRegistry() *prometheus.Registry {
	return metrics.NewRegistry()
}

func provideAdminServer(cfg config.Config, table *device.Table, registry *prometheus.Registry, log *logger.Logger) *adminapi.Server {
	tlsCfg := adminapi.TLSConfig{CertFile: cfg.AdminTLSCert, KeyFile: cfg.AdminTLSKey}
	return adminapi.NewServer(cfg.AdminAddr, table, registry, log, tlsCfg)
}
