package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mac(b byte) MAC {
	return MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, b}
}

func TestRegisterAllocatesSmallestUnusedID(t *testing.T) {
	tbl := New(512)

	id1, reconnect1, _ := tbl.Register(mac(1), 1)
	require.False(t, reconnect1)
	require.EqualValues(t, 1, id1)

	id2, _, _ := tbl.Register(mac(2), 1)
	require.EqualValues(t, 2, id2)

	// id 0 is reserved and must never be allocated.
	require.NotZero(t, id1)
	require.NotZero(t, id2)
}

func TestReconnectionReusesDeviceID(t *testing.T) {
	tbl := New(512)
	id, _, _ := tbl.Register(mac(1), 1)

	dev, ok := tbl.LookupByID(id)
	require.True(t, ok)
	dev.Tracker.Classify(42)

	id2, isReconnection, lastKnown := tbl.Register(mac(1), 1)
	require.Equal(t, id, id2)
	require.True(t, isReconnection)
	require.NotNil(t, lastKnown)
	require.EqualValues(t, 42, *lastKnown)
}

func TestNoTwoDevicesShareAnIdentifier(t *testing.T) {
	tbl := New(512)
	seen := map[uint16]bool{}
	for i := byte(0); i < 20; i++ {
		id, _, _ := tbl.Register(mac(i), 1)
		require.False(t, seen[id], "id %d reused while still live", id)
		seen[id] = true
	}
}

func TestLookupByIDNotFound(t *testing.T) {
	tbl := New(512)
	_, ok := tbl.LookupByID(999)
	require.False(t, ok)
}

func TestSnapshotIsRegistrationOrdered(t *testing.T) {
	tbl := New(512)
	tbl.Register(mac(3), 1)
	tbl.Register(mac(1), 1)
	tbl.Register(mac(2), 1)

	snap := tbl.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, mac(3), snap[0].MAC)
	require.Equal(t, mac(1), snap[1].MAC)
	require.Equal(t, mac(2), snap[2].MAC)
}

func TestActiveDevicesFiltersByStatus(t *testing.T) {
	tbl := New(512)
	id1, _, _ := tbl.Register(mac(1), 1)
	id2, _, _ := tbl.Register(mac(2), 1)
	require.NoError(t, tbl.MarkActive(id1))

	active := tbl.ActiveDevices()
	require.Len(t, active, 1)
	require.Equal(t, id1, active[0].ID)
	_ = id2
}

func TestStatusTransitions(t *testing.T) {
	tbl := New(512)
	id, _, _ := tbl.Register(mac(1), 1)

	require.NoError(t, tbl.MarkActive(id))
	dev, _ := tbl.LookupByID(id)
	require.Equal(t, Active, dev.Status())

	require.NoError(t, tbl.ExpireToTimeout(id))
	require.Equal(t, Timeout, dev.Status())

	require.NoError(t, tbl.MarkDown(id))
	require.Equal(t, Down, dev.Status())

	require.ErrorIs(t, tbl.MarkActive(999), ErrNotFound)
}
