package cli

import (
	"errors"
	"fmt"

	"github.com/tOgg1/leadsync/internal/crmapi"
)

// Exit codes.
const (
	ExitCodeFailure = 1
	ExitCodeUsage   = 2
	ExitCodeAuth    = 3
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exitf builds an ExitError with a formatted message.
func Exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// apiExit maps a collaborator failure to an exit code.
func apiExit(op string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if crmapi.IsAuth(err) {
		return &ExitError{Code: ExitCodeAuth, Err: fmt.Errorf("%s: session rejected: %w", op, err)}
	}
	return &ExitError{Code: ExitCodeFailure, Err: fmt.Errorf("%s: %w", op, err)}
}
