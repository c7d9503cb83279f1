package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/boxboard/boxsync/synckit"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // At least one collection failed to reconcile
	ExitCommandError = 2 // Bad configuration, unreadable files, unreachable store
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// resultView is the JSON form of a run summary.
type resultView struct {
	*synckit.SyncResult
	DurationMS int64  `json:"duration_ms"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// writeResult prints a run summary in the requested format.
func writeResult(w io.Writer, format string, result *synckit.SyncResult) error {
	if format == "json" {
		view := resultView{SyncResult: result, DurationMS: result.Duration.Milliseconds()}
		if result.SkipReason != nil {
			view.SkipReason = result.SkipReason.Error()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	if result.Skipped {
		_, err := fmt.Fprintf(w, "sync skipped: %v\n", result.SkipReason)
		return err
	}

	fmt.Fprintf(w, "run %s: %d succeeded, %d failed in %s\n",
		result.RunID, result.Succeeded, result.Failed, result.Duration.Round(time.Millisecond))
	for _, o := range result.Outcomes {
		fmt.Fprintf(w, "  %-10s unchanged=%d inserted=%d conflicts=%d resolved=%d unresolved=%d local_only=%d uploaded=%d\n",
			o.Collection, o.Unchanged, o.Inserted, o.Conflicts, o.Resolved, o.Unresolved, o.LocalOnly, o.Uploaded)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(w, "  %-10s FAILED: %v\n", f.Collection, f.Err)
	}
	return nil
}
