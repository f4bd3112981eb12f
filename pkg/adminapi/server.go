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

// Package adminapi exposes the collector's operational surface over
// HTTP: Prometheus scraping, a device status listing, and a live
// websocket tail of emitted records. None of this is on the wire
// protocol from spec.md §3/§4 — it's the ambient operability surface a
// production collector needs alongside it.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	negroni "github.com/urfave/negroni/v3"

	"github.com/pulsegrid/telemetry-collector/pkg/collector"
	"github.com/pulsegrid/telemetry-collector/pkg/device"
	"github.com/pulsegrid/telemetry-collector/pkg/logger"
)

// deviceView is the JSON shape returned by /devices, consumed directly
// by the `collector status` CLI subcommand's table rendering.
type deviceView struct {
	ID           uint16    `json:"device_id"`
	MAC          string    `json:"mac"`
	Status       string    `json:"status"`
	BatchSize    uint8     `json:"batch_size"`
	LastValue    *int16    `json:"last_value,omitempty"`
	HeadSequence *uint16   `json:"head_sequence,omitempty"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
}

// Server is the collector's admin HTTP surface.
type Server struct {
	table    *device.Table
	registry *prometheus.Registry
	log      *logger.Logger
	addr     string
	tlsCfg   TLSConfig

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan collector.Record]struct{}

	httpServer *http.Server
}

// NewServer builds a Server bound to addr. It does not listen until
// Run is called. An empty tlsCfg serves plain HTTP.
func NewServer(addr string, table *device.Table, registry *prometheus.Registry, log *logger.Logger, tlsCfg TLSConfig) *Server {
	s := &Server{
		table:    table,
		registry: registry,
		log:      log,
		addr:     addr,
		tlsCfg:   tlsCfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:     make(map[chan collector.Record]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/records", s.handleRecordsWebsocket)

	n := negroni.New(negroni.NewRecovery(), negroni.NewLogger())
	n.Use(cors.Default())
	n.UseHandler(mux)

	s.httpServer = &http.Server{Handler: n}
	return s
}

// Run blocks serving HTTP until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := listen(s.addr, s.tlsCfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.table.Snapshot()
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		v := deviceView{
			ID:        d.ID,
			MAC:       macString(d.MAC),
			Status:    d.Status().String(),
			BatchSize: d.BatchSize(),
			LastSeen:  d.LastArrival(),
		}
		if lv, ok := d.LastValue(); ok {
			v.LastValue = &lv
		}
		if head, ok := d.Tracker.Head(); ok {
			v.HeadSequence = &head
		}
		out = append(out, v)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleRecordsWebsocket streams every Record published via Publish to
// connected clients, as newline-delimited JSON frames.
func (s *Server) handleRecordsWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan collector.Record, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	for rec := range ch {
		if err := conn.WriteJSON(rec); err != nil {
			return
		}
	}
}

// Publish fans r out to every connected /records websocket client. A
// slow subscriber is dropped rather than allowed to block ingestion.
func (s *Server) Publish(r collector.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- r:
		default:
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func macString(mac device.MAC) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 17)
	for i, c := range mac {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, hex[c>>4], hex[c&0x0f])
	}
	return string(b)
}
