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

//go:build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/pulsegrid/telemetry-collector/pkg/config"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// BuildApp assembles the collector's dependency graph. This file is
// never compiled directly (see wire_gen.go); it is the input `wire`
// reads to regenerate that file after the constructor set changes.
func BuildApp(cfg config.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(
		provideTable,
		provideWriter,
		provideSink,
		provideUDPConn,
		provideTransport,
		provideSession,
		provideIOLoop,
		provideRegistry,
		provideAdminServer,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
