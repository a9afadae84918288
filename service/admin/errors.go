package admin

import "errors"

var (
	ErrNotAdmin        = errors.New("viewer is not an admin")
	ErrInvalidTransfer = errors.New("invalid transfer")
	ErrUnknownPurchase = errors.New("unknown purchase request")
	ErrNotProcessed    = errors.New("purchase request not processed")
)
