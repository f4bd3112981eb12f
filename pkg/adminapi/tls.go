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

package adminapi

import (
	"crypto/tls"
	"net"
)

// TLSConfig carries an optional cert/key pair for the admin HTTP
// surface. A zero value means plain HTTP.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (t TLSConfig) enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// listen creates the admin server's listener, over TLS if cfg names a
// cert/key pair.
func listen(addr string, cfg TLSConfig) (net.Listener, error) {
	if !cfg.enabled() {
		return net.Listen("tcp", addr)
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
}
