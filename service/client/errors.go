package client

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized  = errors.New("engine not initialized")
	ErrDisposed        = errors.New("engine disposed")
	ErrNotEligible     = errors.New("viewer not eligible")
	ErrClaimInProgress = errors.New("claim already in progress")
	ErrUnknownDrop     = errors.New("unknown drop")
	ErrInvalidQty      = errors.New("invalid quantity")
)

// OperationError wraps a failed engine action with a stable code.
type OperationError struct {
	operation string
	code      string
	err       error
}

// Error implements the error interface.
func (e OperationError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.operation, e.code, e.err)
}

// Unwrap returns the underlying error.
func (e OperationError) Unwrap() error {
	return e.err
}

// Operation returns the action name.
func (e OperationError) Operation() string {
	return e.operation
}

// Code returns the stable error code.
func (e OperationError) Code() string {
	return e.code
}

// WrapError wraps an error with operation and code metadata.
func WrapError(operation, code string, err error) error {
	if err == nil {
		return nil
	}

	return OperationError{
		operation: operation,
		code:      code,
		err:       err,
	}
}
