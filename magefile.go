//go:build mage

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
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

// Build compiles both binaries into ./bin.
func Build() error {
	if err := sh.RunV("go", "build", "-o", "bin/collector", "./cmd/collector"); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", "bin/probe", "./cmd/probe")
}

// Test runs the full test suite with the race detector enabled.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs go vet across the module.
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// Wire regenerates cmd/collector's dependency-injection wiring.
func Wire() error {
	return sh.RunV("go", "run", "github.com/google/wire/cmd/wire", "./cmd/collector")
}

// Generate runs go generate across the module (counterfeiter fakes).
func Generate() error {
	return sh.RunV("go", "generate", "./...")
}

// CI runs Lint and Test in sequence, mirroring what a pull request
// check does. It does not run Generate.
func CI() {
	mg.SerialDeps(Lint, Test)
}

// Clean removes build output.
func Clean() error {
	return os.RemoveAll("bin")
}
