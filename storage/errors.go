package storage

import "errors"

var (
	ErrUnknownDrop = errors.New("unknown drop")
	ErrDropBusy    = errors.New("drop claim in progress")
)
