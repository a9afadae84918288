package model

import (
	"fmt"
	"strings"
	"time"
)

type (
	// Drop is a time-boxed claimable collectible as sent by the server.
	// Times are unix milliseconds (server clock).
	Drop struct {
		Id        DropId `json:"id"`
		Title     string `json:"title"`
		ImageUrl  string `json:"image_url"`
		CreatedAt int64  `json:"created_at"`
		ExpiresAt int64  `json:"expires_at"`
	}

	// DropView is a read-only copy of a registry entry handed to consumers.
	DropView struct {
		Drop
		// Stable render identity, kept across in-place patches
		RenderId uint64 `json:"render_id"`
		// Countdown against the server-corrected clock
		RemainingMs int64 `json:"remaining_ms"`
		// A claim for this drop is in flight
		Busy bool `json:"busy"`
	}

	// DropList is an ordered registry view (by creation time).
	DropList []DropView

	// DropChange is a single registry mutation.
	DropChange struct {
		Type   OperationType `json:"type"`
		Reason RemovalReason `json:"reason,omitempty"`
		Drop   DropView      `json:"drop"`
	}
)

// String implements the stringer interface.
func (l DropList) String() string {
	str := strings.Builder{}
	for i, item := range l {
		str.WriteString(fmt.Sprintf("- [%d] %s %q (%dms left)\n", i, item.Id, item.Title, item.RemainingMs))
	}

	return str.String()
}

// String implements the stringer interface.
func (c DropChange) String() string {
	if c.Type == DeleteOperationType {
		return fmt.Sprintf("%s: %s (%s)", c.Type, c.Drop.Id, c.Reason)
	}

	return fmt.Sprintf("%s: %s %q", c.Type, c.Drop.Id, c.Drop.Title)
}

// ExpiresTime returns the expiry as time.Time.
func (d Drop) ExpiresTime() time.Time {
	return time.UnixMilli(d.ExpiresAt)
}

// RemainingMs returns max(0, expiresAt - now) in milliseconds.
func RemainingMs(expiresAt int64, now time.Time) int64 {
	remaining := expiresAt - now.UnixMilli()
	if remaining < 0 {
		return 0
	}

	return remaining
}
