package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/itiky/drop-engine/model"
)

type (
	// Entry keeps a tracked drop alongside its local render state.
	Entry struct {
		Drop     model.Drop
		RenderId uint64
		Busy     bool
	}
)

// String implements stringer interface.
func (e Entry) String() string {
	raw, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Sprintf("marshal: %v", err)
	}

	return string(raw)
}

// View builds a consumer copy of the Entry.
func (e *Entry) View(now time.Time) model.DropView {
	return model.DropView{
		Drop:        e.Drop,
		RenderId:    e.RenderId,
		RemainingMs: model.RemainingMs(e.Drop.ExpiresAt, now),
		Busy:        e.Busy,
	}
}

// NewEntry creates a new Entry object (no validation as it is used internaly).
func NewEntry(drop model.Drop, renderId uint64) *Entry {
	return &Entry{
		Drop:     drop,
		RenderId: renderId,
	}
}
