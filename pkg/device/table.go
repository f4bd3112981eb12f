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

package device

import (
	"errors"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/thoas/go-funk"
)

// ErrNotFound is returned by LookupByID/LookupByMAC when the key is
// unknown, and by the status transition helpers when the id does not
// exist.
var ErrNotFound = errors.New("device: not found")

// Table is the collector's single Device Table (spec.md §4.3). mac is
// the primary key (I1); device_id is a secondary, unique, non-zero key
// allocated by the table itself.
//
// byMAC is an ordered map (github.com/elliotchance/orderedmap/v2)
// purely so admin/status listings enumerate devices in registration
// order instead of Go's randomized map order — the allocation and
// lookup algorithms themselves don't depend on that order.
type Table struct {
	mu sync.RWMutex

	byMAC *orderedmap.OrderedMap[MAC, *Device]
	byID  map[uint16]*Device

	windowSize int
}

// New creates an empty Device Table. windowSize is forwarded to every
// Tracker created for a newly registered device.
func New(windowSize int) *Table {
	return &Table{
		byMAC:      orderedmap.NewOrderedMap[MAC, *Device](),
		byID:       make(map[uint16]*Device),
		windowSize: windowSize,
	}
}

// Register implements spec.md §4.3's register(mac, batch_size). A
// previously seen MAC always gets its existing device_id back
// (I1/P5); an unseen MAC is allocated the smallest unused positive
// u16, deterministically, per spec.md §4.3.
func (t *Table) Register(mac MAC, batchSize uint8) (deviceID uint16, isReconnection bool, lastKnownSequence *uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byMAC.Get(mac); ok {
		existing.SetBatchSize(batchSize)
		if head, initialized := existing.Tracker.Head(); initialized {
			h := head
			lastKnownSequence = &h
		}
		return existing.ID, true, lastKnownSequence
	}

	id := t.allocateID()
	dev := newDevice(mac, id, batchSize, t.windowSize)
	t.byMAC.Set(mac, dev)
	t.byID[id] = dev
	return id, false, nil
}

// allocateID implements the "smallest unused positive u16" rule.
// Identifier 0 is reserved per spec.md §4.3 and never returned.
func (t *Table) allocateID() uint16 {
	for id := uint16(1); id != 0; id++ {
		if _, taken := t.byID[id]; !taken {
			return id
		}
	}
	panic("device: identifier space exhausted")
}

// LookupByID borrows the Device bound to id.
func (t *Table) LookupByID(id uint16) (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byID[id]
	return d, ok
}

// LookupByMAC borrows the Device bound to mac.
func (t *Table) LookupByMAC(mac MAC) (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byMAC.Get(mac)
	return d, ok
}

// MarkActive transitions a device into ACTIVE, e.g. on receipt of
// TIME_SYNC (spec.md §4.4: PENDING --TIME_SYNC--> ACTIVE) or on any
// data message that revives a TIMEOUT device.
func (t *Table) MarkActive(id uint16) error {
	d, ok := t.LookupByID(id)
	if !ok {
		return ErrNotFound
	}
	d.setStatus(Active)
	return nil
}

// MarkPending transitions a device back to PENDING, used for both the
// first STARTUP and a reconnection STARTUP from an already-known MAC.
func (t *Table) MarkPending(id uint16) error {
	d, ok := t.LookupByID(id)
	if !ok {
		return ErrNotFound
	}
	d.setStatus(Pending)
	return nil
}

// ExpireToTimeout transitions an ACTIVE device to TIMEOUT; called only
// by the liveness sweep.
func (t *Table) ExpireToTimeout(id uint16) error {
	d, ok := t.LookupByID(id)
	if !ok {
		return ErrNotFound
	}
	d.setStatus(Timeout)
	return nil
}

// MarkDown transitions a device to DOWN on SHUTDOWN.
func (t *Table) MarkDown(id uint16) error {
	d, ok := t.LookupByID(id)
	if !ok {
		return ErrNotFound
	}
	d.setStatus(Down)
	return nil
}

// Snapshot returns every device in registration order, for the admin
// HTTP surface and the `collector status` CLI command.
func (t *Table) Snapshot() []*Device {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := t.byMAC.Keys()
	out := make([]*Device, 0, len(keys))
	for _, k := range keys {
		d, _ := t.byMAC.Get(k)
		out = append(out, d)
	}
	return out
}

// ActiveDevices returns the subset of Snapshot currently ACTIVE,
// adapted with a small go-funk filter rather than a hand-rolled loop.
func (t *Table) ActiveDevices() []*Device {
	all := t.Snapshot()
	filtered := funk.Filter(all, func(d *Device) bool {
		return d.Status() == Active
	})
	return filtered.([]*Device)
}

// Len reports how many devices the table currently holds.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byMAC.Len()
}
