package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/petal-labs/signalflow/loader"
	"github.com/petal-labs/signalflow/runtime"
)

// Process exit codes.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitConfig       = 5
	exitStructural   = 6
	exitTimeout      = 10
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// loadError maps a loader failure to an exit code.
func loadError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return exitError(exitFileNotFound, "file not found: %s", path)
	}
	if errors.Is(err, loader.ErrInvalidGraph) {
		return exitError(exitValidation, "invalid graph file: %v", err)
	}
	return exitError(exitValidation, "loading %s: %v", path, err)
}

// runError maps an engine failure to an exit code. Structural errors mean the
// graph cannot be interpreted; everything else is a runtime failure.
func runError(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return exitError(exitTimeout, "execution timed out after %s", timeout)
	case runtime.IsGraphError(err):
		return exitError(exitStructural, "invalid graph: %v", err)
	default:
		return exitError(exitRuntime, "execution failed: %v", err)
	}
}
