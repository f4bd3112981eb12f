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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/pulsegrid/telemetry-collector/pkg/buildinfo"
)

// deviceStatusRow mirrors adminapi's /devices JSON shape; it is decoded
// independently rather than importing pkg/adminapi so the CLI talks to
// any admin HTTP surface over the wire, not a Go-level struct.
type deviceStatusRow struct {
	DeviceID     uint16    `json:"device_id"`
	MAC          string    `json:"mac"`
	Status       string    `json:"status"`
	BatchSize    uint8     `json:"batch_size"`
	LastValue    *int16    `json:"last_value"`
	HeadSequence *uint16   `json:"head_sequence"`
	LastSeen     time.Time `json:"last_seen"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "list devices known to a running collector, via its admin HTTP surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "admin-addr", Value: "http://localhost:9090", Usage: "collector admin HTTP base URL"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "request timeout"},
		},
		Action: runStatus,
	}
}

func runStatus(c *cli.Context) error {
	base := strings.TrimRight(c.String("admin-addr"), "/")
	client := &http.Client{Timeout: c.Duration("timeout")}

	resp, err := client.Get(base + "/devices")
	if err != nil {
		return cli.Exit(fmt.Sprintf("collector status: %v", err), 1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cli.Exit(fmt.Sprintf("collector status: admin server returned %s", resp.Status), 1)
	}

	var rows []deviceStatusRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return cli.Exit(fmt.Sprintf("collector status: decoding response: %v", err), 1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Device ID", "MAC", "Status", "Last Value", "Head Sequence", "Last Seen"})
	for _, r := range rows {
		table.Append([]string{
			fmt.Sprintf("%d", r.DeviceID),
			r.MAC,
			r.Status,
			formatInt16Ptr(r.LastValue),
			formatUint16Ptr(r.HeadSequence),
			humanizeLastSeen(r.LastSeen),
		})
	}
	table.Render()
	return nil
}

func formatInt16Ptr(v *int16) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func formatUint16Ptr(v *uint16) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func humanizeLastSeen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the build version and minimum compatible client version",
		Action: func(c *cli.Context) error {
			fmt.Printf("collector %s (minimum compatible probe: %s)\n", buildinfo.Version, buildinfo.MinCompatibleClient)
			return nil
		},
	}
}
