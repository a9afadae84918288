package storage

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/itiky/drop-engine/model"
)

const BenchRegistrySize = 100000

func newTestDrop(id string, createdAt time.Time, ttl time.Duration) model.Drop {
	return model.Drop{
		Id:        model.DropId(id),
		Title:     "Drop " + id,
		ImageUrl:  "https://cdn.local/" + id + ".png",
		CreatedAt: createdAt.UnixMilli(),
		ExpiresAt: createdAt.Add(ttl).UnixMilli(),
	}
}

// Test adds/removes drops and checks the list stays ordered by creation time.
func Test_Registry_Sorting(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	isSorted := func(comment string) {
		t.Logf("%s:\n%s", comment, registry.String())

		require.Len(t, registry.idDataMatch, len(registry.list), "list/dataMap length mismatch")
		for i := 1; i < len(registry.list); i++ {
			require.True(t, less(registry.list[i-1], registry.list[i]), "item[%d] order", i)
		}
	}

	// add a few drops
	for _, offset := range []int{5, 1, 10, 8, -1} {
		drop := newTestDrop(fmt.Sprintf("d%d", offset), now.Add(time.Duration(offset)*time.Second), time.Minute)
		registry.upsert(drop, now)
		isSorted(fmt.Sprintf("Adding %s", drop.Id))
	}

	// same creation time resolves by id
	registry.upsert(newTestDrop("d8a", now.Add(8*time.Second), time.Minute), now)
	isSorted("Adding d8a")

	// remove a few drops
	for _, idx := range []int{0, 3, 1, 1, 0} {
		registry.remove(registry.list[idx].Drop.Id, model.RemovalGone, now)
		isSorted(fmt.Sprintf("Removing [%d]", idx))
	}
	require.Equal(t, 1, registry.Len())
}

func Test_Registry_Reconcile(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	d1 := newTestDrop("d1", now, 5*time.Second)
	d2 := newTestDrop("d2", now.Add(time.Second), time.Minute)

	// create
	changes := registry.Reconcile([]model.Drop{d2, d1}, now)
	require.Len(t, changes, 2)
	for _, change := range changes {
		require.Equal(t, model.InsertOperationType, change.Type)
	}

	list := registry.Export(now)
	require.Len(t, list, 2)
	require.Equal(t, d1.Id, list[0].Id)
	require.Equal(t, d2.Id, list[1].Id)
	require.EqualValues(t, 5000, list[0].RemainingMs)
	renderId := list[0].RenderId

	// identical snapshot: no changes
	require.Empty(t, registry.Reconcile([]model.Drop{d1, d2}, now))

	// patch in place keeps the render identity
	patched := d1
	patched.Title = "Renamed"
	changes = registry.Reconcile([]model.Drop{patched, d2}, now)
	require.Len(t, changes, 1)
	require.Equal(t, model.UpdateOperationType, changes[0].Type)
	require.Equal(t, "Renamed", changes[0].Drop.Title)
	require.Equal(t, renderId, changes[0].Drop.RenderId)

	// absent drop is removed as gone
	changes = registry.Reconcile([]model.Drop{patched}, now)
	require.Len(t, changes, 1)
	require.Equal(t, model.DeleteOperationType, changes[0].Type)
	require.Equal(t, model.RemovalGone, changes[0].Reason)
	require.Equal(t, d2.Id, changes[0].Drop.Id)

	// wholesale replacement
	d3 := newTestDrop("d3", now, time.Minute)
	changes = registry.Reconcile([]model.Drop{d3}, now)
	require.Len(t, changes, 2)
	require.Equal(t, 1, registry.Len())
	_, found := registry.Get(d3.Id, now)
	require.True(t, found)

	// empty snapshot clears everything
	changes = registry.Reconcile(nil, now)
	require.Len(t, changes, 1)
	require.Zero(t, registry.Len())
}

func Test_Registry_ExpiryNeverExtended(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	drop := newTestDrop("d1", now, 5*time.Second)
	registry.Reconcile([]model.Drop{drop}, now)

	extended := drop
	extended.ExpiresAt += 60_000
	require.Empty(t, registry.Reconcile([]model.Drop{extended}, now))

	view, found := registry.Get(drop.Id, now)
	require.True(t, found)
	require.Equal(t, drop.ExpiresAt, view.ExpiresAt)

	shortened := drop
	shortened.ExpiresAt -= 1000
	changes := registry.Reconcile([]model.Drop{shortened}, now)
	require.Len(t, changes, 1)
	require.EqualValues(t, 4000, changes[0].Drop.RemainingMs)
}

func Test_Registry_Expire(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	d1 := newTestDrop("d1", now, 5*time.Second)
	d2 := newTestDrop("d2", now, time.Minute)
	registry.Reconcile([]model.Drop{d1, d2}, now)

	require.Empty(t, registry.Expire(now.Add(4999*time.Millisecond)))

	changes := registry.Expire(now.Add(5000 * time.Millisecond))
	require.Len(t, changes, 1)
	require.Equal(t, d1.Id, changes[0].Drop.Id)
	require.Equal(t, model.RemovalExpired, changes[0].Reason)
	require.Zero(t, changes[0].Drop.RemainingMs)

	// a stale snapshot still listing the expired drop does not bring it back
	require.Empty(t, registry.Reconcile([]model.Drop{d1, d2}, now.Add(5100*time.Millisecond)))
	require.Equal(t, 1, registry.Len())
}

func Test_Registry_ExpiredOnArrival(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	stale := newTestDrop("d1", now.Add(-time.Minute), 10*time.Second)
	require.Empty(t, registry.Reconcile([]model.Drop{stale}, now))
	require.Zero(t, registry.Len())

	invalid := model.Drop{Id: "d2"}
	require.Empty(t, registry.Reconcile([]model.Drop{invalid}, now))
}

// removeDrop applies a single remove operation. Returns nil if nothing changed.
func removeDrop(t *testing.T, registry *Registry, id model.DropId, reason model.RemovalReason, now time.Time) *model.DropChange {
	op, err := NewRemoveOperation(id, reason)
	require.NoError(t, err)

	changes := registry.ApplyOperations(now, op)
	if len(changes) == 0 {
		return nil
	}
	require.Len(t, changes, 1)

	return &changes[0]
}

func Test_Registry_Tombstones(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	d1 := newTestDrop("d1", now, time.Minute)
	registry.Reconcile([]model.Drop{d1}, now)

	change := removeDrop(t, registry, d1.Id, model.RemovalClaimed, now)
	require.NotNil(t, change)
	require.Equal(t, model.RemovalClaimed, change.Reason)
	require.Nil(t, removeDrop(t, registry, d1.Id, model.RemovalClaimed, now))

	// snapshot issued before the claim still lists it
	require.Empty(t, registry.Reconcile([]model.Drop{d1}, now))
	require.Zero(t, registry.Len())

	// server stops listing it: tombstone released
	registry.Reconcile(nil, now)
	require.Empty(t, registry.tombstones)

	// a gone removal leaves no tombstone
	registry.Reconcile([]model.Drop{d1}, now)
	removeDrop(t, registry, d1.Id, model.RemovalGone, now)
	require.Empty(t, registry.tombstones)
	require.Len(t, registry.Reconcile([]model.Drop{d1}, now), 1)
}

func Test_Registry_Busy(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	d1 := newTestDrop("d1", now, time.Minute)
	registry.Reconcile([]model.Drop{d1}, now)

	_, err := registry.MarkBusy("unknown", now)
	require.True(t, errors.Is(err, ErrUnknownDrop))

	change, err := registry.MarkBusy(d1.Id, now)
	require.NoError(t, err)
	require.True(t, change.Drop.Busy)

	_, err = registry.MarkBusy(d1.Id, now)
	require.True(t, errors.Is(err, ErrDropBusy))

	// busy state survives a patch
	patched := d1
	patched.Title = "Renamed"
	registry.Reconcile([]model.Drop{patched}, now)
	view, _ := registry.Get(d1.Id, now)
	require.True(t, view.Busy)

	require.NotNil(t, registry.ClearBusy(d1.Id, now))
	require.Nil(t, registry.ClearBusy(d1.Id, now))
	require.Nil(t, registry.ClearBusy("unknown", now))
}

func Test_Registry_Clear(t *testing.T) {
	registry := NewRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	registry.Reconcile([]model.Drop{newTestDrop("d1", now, time.Minute), newTestDrop("d2", now, time.Minute)}, now)
	removeDrop(t, registry, "d1", model.RemovalClaimed, now)

	changes := registry.Clear(now)
	require.Len(t, changes, 1)
	require.Zero(t, registry.Len())
	require.Empty(t, registry.tombstones)
}

func Test_Registry_Operations(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	_, err := NewUpsertOperation(model.Drop{})
	require.Error(t, err)

	_, err = NewRemoveOperation("d1", "unknown")
	require.Error(t, err)

	upsertOp, err := NewUpsertOperation(newTestDrop("d1", now, time.Minute))
	require.NoError(t, err)
	removeOp, err := NewRemoveOperation("d1", model.RemovalTaken)
	require.NoError(t, err)

	registry := NewRegistry()
	changes := registry.ApplyOperations(now, upsertOp, upsertOp, removeOp, removeOp)
	require.Len(t, changes, 2)
	require.Equal(t, model.InsertOperationType, changes[0].Type)
	require.Equal(t, model.DeleteOperationType, changes[1].Type)
	require.Equal(t, model.RemovalTaken, changes[1].Reason)
}

func Benchmark_Registry_Reconcile(b *testing.B) {
	now := time.UnixMilli(1_700_000_000_000)
	drops := make([]model.Drop, 0, BenchRegistrySize)
	for i := 0; i < BenchRegistrySize; i++ {
		drops = append(drops, newTestDrop(uuid.NewString(), now.Add(time.Duration(rand.Intn(3600))*time.Second), time.Hour))
	}
	r := NewRegistry()
	r.Reconcile(drops, now)
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		r.Reconcile(drops, now)
	}
}
