package transport

import (
	"errors"
	"fmt"

	"github.com/itiky/drop-engine/model"
)

var (
	// Network failure, timeout or a non JSON reply
	ErrTransport = errors.New("transport failure")
	// Envelope ok but the payload does not decode
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError is an {ok: false} envelope.
type APIError struct {
	Action  model.Action
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Action, e.Message)
	}

	return fmt.Sprintf("%s: %s: %s", e.Action, e.Code, e.Message)
}

// IsProtocolFailure reports whether err is an ok:false envelope or an undecodable payload.
func IsProtocolFailure(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) || errors.Is(err, ErrMalformedResponse)
}
