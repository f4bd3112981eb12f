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

// Package buildinfo carries this binary's semantic build version,
// separate from the 4-bit wire protocol version in spec.md §3 (those
// never change together: a collector can gain features across many
// build versions while the wire protocol_version stays 1).
package buildinfo

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// Version is overridden at link time via -ldflags, e.g.:
//
//	go build -ldflags "-X github.com/pulsegrid/telemetry-collector/pkg/buildinfo.Version=1.4.0"
var Version = "0.0.0-dev"

// MinCompatibleClient is the oldest --probe build this collector
// expects to interoperate with. It is advisory only: the wire protocol
// itself has no version negotiation beyond the 4-bit header field.
const MinCompatibleClient = "1.0.0"

// CheckCompatible reports whether clientVersion parses as >=
// MinCompatibleClient. A malformed version string yields false together
// with a non-nil error.
func CheckCompatible(clientVersion string) (ok bool, err error) {
	cv, err := version.NewVersion(clientVersion)
	if err != nil {
		return false, fmt.Errorf("buildinfo: parsing client version %q: %w", clientVersion, err)
	}
	min, err := version.NewVersion(MinCompatibleClient)
	if err != nil {
		return false, err
	}
	return cv.GreaterThanOrEqual(min), nil
}
