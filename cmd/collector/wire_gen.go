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

//go:build !wireinject

// This file is written by hand in the shape `wire gen ./cmd/collector`
// produces, because `wire` codegen cannot run in this environment. It
// goes beyond the provider set in wire.go in two places: it supplies
// clock.System{} directly and sets session.OnRecord to admin.Publish;
// wire.go declares neither.

package main

import (
	"github.com/pulsegrid/telemetry-collector/pkg/clock"
	"github.com/pulsegrid/telemetry-collector/pkg/config"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// BuildApp assembles the collector's dependency graph and returns a
// cleanup function that releases the bound socket and flushes the log
// sink's writer.
func BuildApp(cfg config.Config, log *logger.Logger) (*App, func(), error) {
	table := provideTable(cfg)

	writer, err := provideWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	sink := provideSink(cfg, writer, log)

	conn, err := provideUDPConn(cfg)
	if err != nil {
		return nil, nil, err
	}
	transport := provideTransport(conn)

	clk := clock.System{}
	session := provideSession(table, sink, transport, clk, log)
	ioLoop := provideIOLoop(cfg, conn, session, table, sink, clk, log)

	registry := provideRegistry()
	admin := provideAdminServer(cfg, table, registry, log)

	session.OnRecord = admin.Publish

	app := &App{
		Config:   cfg,
		Table:    table,
		Sink:     sink,
		Session:  session,
		IOLoop:   ioLoop,
		Admin:    admin,
		Registry: registry,
		Log:      log,
	}

	cleanup := func() {
		<-sink.Close()
		if closer, ok := writer.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		conn.Close()
	}
	return app, cleanup, nil
}
