package crmapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

// ErrUnauthorized is returned for 401 responses. It is terminal for the
// current cycle and must reach the host so it can re-authenticate.
var ErrUnauthorized = errors.New("unauthorized")

// NetworkError means no usable response arrived: dial failure, timeout or
// cancellation. Callers retry on the next scheduled tick.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, fasthttp.ErrTimeout) || errors.Is(e.Err, context.DeadlineExceeded)
}

// Canceled reports whether the caller gave up on the request.
func (e *NetworkError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// ServerError is a non-2xx response or a 2xx with success=false.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
}

// DataShapeError describes one record dropped at the boundary.
type DataShapeError struct {
	Kind  string
	Index int
	Err   error
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("%s[%d]: %v", e.Kind, e.Index, e.Err)
}

func (e *DataShapeError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsCanceled reports whether err came from a canceled request.
func IsCanceled(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Canceled()
	}
	return errors.Is(err, context.Canceled)
}

// IsServer reports whether err is a server-side failure.
func IsServer(err error) bool {
	var srvErr *ServerError
	return errors.As(err, &srvErr)
}
