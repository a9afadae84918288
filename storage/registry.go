package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itiky/drop-engine/model"
)

type (
	// Registry keeps tracked drops alongside the creation-ordered list view.
	// Locally removed drops are tombstoned until a server snapshot stops listing them,
	// so a snapshot issued before the removal cannot resurrect them.
	Registry struct {
		sync.RWMutex
		list         []*Entry
		idDataMatch  map[model.DropId]*Entry
		tombstones   map[model.DropId]model.RemovalReason
		nextRenderId uint64
	}
)

// String implements stringer interface.
func (r *Registry) String() string {
	r.RLock()
	defer r.RUnlock()

	str := strings.Builder{}
	for i, entry := range r.list {
		str.WriteString(fmt.Sprintf("- [%d] %s %q (busy: %t)\n", i, entry.Drop.Id, entry.Drop.Title, entry.Busy))
	}

	return str.String()
}

// Reconcile applies a full server snapshot: new ids are created, tracked ids missing
// from the snapshot are removed, existing ones are patched in place.
func (r *Registry) Reconcile(drops []model.Drop, now time.Time) []model.DropChange {
	r.Lock()
	defer r.Unlock()

	incoming := make(map[model.DropId]bool, len(drops))
	ops := make([]Operation, 0, len(drops))
	for _, drop := range drops {
		op, err := NewUpsertOperation(drop)
		if err != nil {
			continue
		}
		incoming[drop.Id] = true
		ops = append(ops, op)
	}

	for _, entry := range r.list {
		if !incoming[entry.Drop.Id] {
			ops = append(ops, RemoveOperation{Id: entry.Drop.Id, Reason: model.RemovalGone})
		}
	}

	// The server no longer lists them: nothing left to guard against
	for id := range r.tombstones {
		if !incoming[id] {
			delete(r.tombstones, id)
		}
	}

	return r.applyOperations(now, ops...)
}

// Expire removes drops whose countdown reached zero at now.
func (r *Registry) Expire(now time.Time) []model.DropChange {
	r.Lock()
	defer r.Unlock()

	ops := make([]Operation, 0)
	for _, entry := range r.list {
		if model.RemainingMs(entry.Drop.ExpiresAt, now) == 0 {
			ops = append(ops, RemoveOperation{Id: entry.Drop.Id, Reason: model.RemovalExpired})
		}
	}

	return r.applyOperations(now, ops...)
}

// ApplyOperations updates the registry state with Operation list and returns changes performed.
func (r *Registry) ApplyOperations(now time.Time, ops ...Operation) []model.DropChange {
	r.Lock()
	defer r.Unlock()

	return r.applyOperations(now, ops...)
}

// MarkBusy flags a drop as having a claim in flight.
func (r *Registry) MarkBusy(id model.DropId, now time.Time) (model.DropChange, error) {
	r.Lock()
	defer r.Unlock()

	entry, found := r.idDataMatch[id]
	if !found {
		return model.DropChange{}, fmt.Errorf("%s: %w", id, ErrUnknownDrop)
	}
	if entry.Busy {
		return model.DropChange{}, fmt.Errorf("%s: %w", id, ErrDropBusy)
	}
	entry.Busy = true

	return model.DropChange{Type: model.UpdateOperationType, Drop: entry.View(now)}, nil
}

// ClearBusy drops the busy flag. Returns nil if the drop is not tracked or not busy.
func (r *Registry) ClearBusy(id model.DropId, now time.Time) *model.DropChange {
	r.Lock()
	defer r.Unlock()

	entry, found := r.idDataMatch[id]
	if !found || !entry.Busy {
		return nil
	}
	entry.Busy = false

	return &model.DropChange{Type: model.UpdateOperationType, Drop: entry.View(now)}
}

// Get returns a view of a tracked drop.
func (r *Registry) Get(id model.DropId, now time.Time) (model.DropView, bool) {
	r.RLock()
	defer r.RUnlock()

	entry, found := r.idDataMatch[id]
	if !found {
		return model.DropView{}, false
	}

	return entry.View(now), true
}

// Export builds the creation-ordered view of all tracked drops.
func (r *Registry) Export(now time.Time) model.DropList {
	r.RLock()
	defer r.RUnlock()

	list := make(model.DropList, 0, len(r.list))
	for _, entry := range r.list {
		list = append(list, entry.View(now))
	}

	return list
}

// Len returns the number of tracked drops.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.list)
}

// Clear forgets every drop and tombstone (engine stop).
func (r *Registry) Clear(now time.Time) []model.DropChange {
	r.Lock()
	defer r.Unlock()

	changes := make([]model.DropChange, 0, len(r.list))
	for _, entry := range r.list {
		changes = append(changes, model.DropChange{Type: model.DeleteOperationType, Reason: model.RemovalGone, Drop: entry.View(now)})
	}
	r.list = nil
	r.idDataMatch = make(map[model.DropId]*Entry)
	r.tombstones = make(map[model.DropId]model.RemovalReason)

	return changes
}

func (r *Registry) applyOperations(now time.Time, ops ...Operation) []model.DropChange {
	changes := make([]model.DropChange, 0, len(ops))
	for _, op := range ops {
		if op == nil {
			continue
		}

		if change := op.Apply(r, now); change != nil {
			changes = append(changes, *change)
		}
	}

	return changes
}

// upsert creates a new / patches an existing Entry while keeping the list order.
func (r *Registry) upsert(drop model.Drop, now time.Time) *model.DropChange {
	entry, found := r.idDataMatch[drop.Id]
	if !found {
		if _, removed := r.tombstones[drop.Id]; removed {
			return nil
		}
		if model.RemainingMs(drop.ExpiresAt, now) == 0 {
			return nil
		}

		r.nextRenderId++
		entry = NewEntry(drop, r.nextRenderId)
		r.idDataMatch[drop.Id] = entry

		// Insert
		idx := r.findEntryIdxLTTarget(entry)
		r.list = append(r.list, nil)
		copy(r.list[idx+1:], r.list[idx:])
		r.list[idx] = entry

		return &model.DropChange{Type: model.InsertOperationType, Drop: entry.View(now)}
	}

	// Patch in place: the render identity and ordering key stay
	changed := false
	if entry.Drop.Title != drop.Title {
		entry.Drop.Title = drop.Title
		changed = true
	}
	if entry.Drop.ImageUrl != drop.ImageUrl {
		entry.Drop.ImageUrl = drop.ImageUrl
		changed = true
	}
	// Expiry is never extended once observed
	if drop.ExpiresAt < entry.Drop.ExpiresAt {
		entry.Drop.ExpiresAt = drop.ExpiresAt
		changed = true
	}
	if !changed {
		return nil
	}

	return &model.DropChange{Type: model.UpdateOperationType, Drop: entry.View(now)}
}

// remove deletes an existing Entry while keeping the list order.
func (r *Registry) remove(id model.DropId, reason model.RemovalReason, now time.Time) *model.DropChange {
	if reason != model.RemovalGone {
		r.tombstones[id] = reason
	}

	entry, found := r.idDataMatch[id]
	if !found {
		return nil
	}
	delete(r.idDataMatch, id)

	// Cut
	idx := r.findEntryIdx(entry)
	r.list = append(r.list[:idx], r.list[idx+1:]...)

	return &model.DropChange{Type: model.DeleteOperationType, Reason: reason, Drop: entry.View(now)}
}

// less orders entries by creation time, then id.
func less(a, b *Entry) bool {
	if a.Drop.CreatedAt != b.Drop.CreatedAt {
		return a.Drop.CreatedAt < b.Drop.CreatedAt
	}

	return a.Drop.Id < b.Drop.Id
}

// findEntryIdxLTTarget returns the leftmost index where the entry can be inserted.
func (r *Registry) findEntryIdxLTTarget(entry *Entry) int {
	return sort.Search(len(r.list), func(i int) bool {
		return !less(r.list[i], entry)
	})
}

// findEntryIdx returns the specified entry index.
// Panics on failure (should not happen).
func (r *Registry) findEntryIdx(entry *Entry) int {
	idx := r.findEntryIdxLTTarget(entry)
	for i := idx; i < len(r.list); i++ {
		if r.list[i] == entry {
			return i
		}
	}
	panic("entry not found: " + string(entry.Drop.Id))
}

// NewRegistry creates a new Registry object.
func NewRegistry() *Registry {
	return &Registry{
		idDataMatch: make(map[model.DropId]*Entry),
		tombstones:  make(map[model.DropId]model.RemovalReason),
	}
}
