package storage

import (
	"fmt"
	"time"

	"github.com/itiky/drop-engine/model"
)

type (
	// Operation is an operation performed on Registry to update its state.
	Operation interface {
		// Update the registry state
		Apply(r *Registry, now time.Time) *model.DropChange
		// Only used for logs and tests
		GetId() model.DropId
	}

	// UpsertOperation implements Operation interface for create/patch operation.
	UpsertOperation struct {
		Drop model.Drop
	}

	// RemoveOperation implements Operation interface for delete operation.
	RemoveOperation struct {
		Id     model.DropId
		Reason model.RemovalReason
	}
)

// Apply implements Operation interface.
func (o UpsertOperation) Apply(r *Registry, now time.Time) *model.DropChange {
	return r.upsert(o.Drop, now)
}

// GetId implements Operation interface.
func (o UpsertOperation) GetId() model.DropId {
	return o.Drop.Id
}

// Apply implements Operation interface.
func (o RemoveOperation) Apply(r *Registry, now time.Time) *model.DropChange {
	return r.remove(o.Id, o.Reason, now)
}

// GetId implements Operation interface.
func (o RemoveOperation) GetId() model.DropId {
	return o.Id
}

// NewUpsertOperation creates a valid Operation object from a server drop.
func NewUpsertOperation(drop model.Drop) (UpsertOperation, error) {
	if drop.Id == "" {
		return UpsertOperation{}, fmt.Errorf("%s: empty", "id")
	}
	if drop.ExpiresAt <= 0 {
		return UpsertOperation{}, fmt.Errorf("%s: must be GT 0", "expiresAt")
	}

	return UpsertOperation{Drop: drop}, nil
}

// NewRemoveOperation creates a valid Operation object.
func NewRemoveOperation(id model.DropId, reason model.RemovalReason) (RemoveOperation, error) {
	if id == "" {
		return RemoveOperation{}, fmt.Errorf("%s: empty", "id")
	}
	switch reason {
	case model.RemovalGone, model.RemovalExpired, model.RemovalClaimed, model.RemovalTaken:
	default:
		return RemoveOperation{}, fmt.Errorf("%s: unsupported: %q", "reason", reason)
	}

	return RemoveOperation{Id: id, Reason: reason}, nil
}
