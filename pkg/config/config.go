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

// Package config loads the collector's server-side configuration
// (spec.md §6: "configuration through environment or a config file").
// The client (--probe) takes its knobs entirely from CLI flags instead,
// per spec.md's CLI surface for the client; see cmd/probe.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Config is the collector server's full configuration, spec.md §6.
type Config struct {
	Host           string `yaml:"host"`
	Port           uint16 `yaml:"port"`
	MaxPacketSize  uint16 `yaml:"max_packet_size"`
	LogDirectory   string `yaml:"log_directory"`
	LogLevel       string `yaml:"log_level"`
	AdminAddr      string `yaml:"admin_addr"`
	AdminTLSCert   string `yaml:"admin_tls_cert"`
	AdminTLSKey    string `yaml:"admin_tls_key"`
	WindowSize     int    `yaml:"window_size"`
	SinkCapacity   int    `yaml:"sink_capacity"`
	WorkerPoolSize int    `yaml:"worker_pool_size"`
}

// Default returns the configuration spec.md §6 describes absent any
// override: bind-all, port 5000, a 2048-byte packet ceiling.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           5000,
		MaxPacketSize:  2048,
		LogDirectory:   "./data",
		LogLevel:       "info",
		AdminAddr:      ":9090",
		WindowSize:     512,
		SinkCapacity:   4096,
		WorkerPoolSize: 8,
	}
}

// Load reads YAML configuration from path, applied over Default(). An
// empty path (or one that does not exist) just returns the defaults —
// spec.md's "configuration through environment or a config file" makes
// the file optional.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return cfg, fmt.Errorf("config: expanding path %q: %w", path, err)
	}

	b, err := os.ReadFile(expanded)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %q: %w", expanded, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %q: %w", expanded, err)
	}
	return cfg, nil
}

// DefaultPath returns the conventional per-user config location,
// $HOME/.pulsegrid/collector.yaml, for callers that don't pass
// --config explicitly.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pulsegrid", "collector.yaml"), nil
}

// Addr formats Host/Port as a net.ResolveUDPAddr-compatible string.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
