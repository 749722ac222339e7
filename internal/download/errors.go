package download

import (
	"fmt"
	"time"
)

// TransientError reports a provider-declared temporary condition, such as a
// dataset still being staged from offline storage. The transfer may succeed
// if retried later; the orchestrator backs off and tries again within its
// attempt budget.
type TransientError struct {
	URL        string
	StatusCode int
	Reason     string
	RetryAfter time.Duration // Provider-suggested wait, zero when absent
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("provider reported a temporary condition for %s (status %d): %s",
		e.URL, e.StatusCode, e.Reason)
}

// TransferError reports a definitive transfer failure. Retrying with the same
// inputs would fail the same way.
type TransferError struct {
	URL        string
	Operation  string // The step that failed (e.g. "request", "copy", "commit")
	StatusCode int    // Transport status code, zero when not applicable
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer of %s failed during %s (status %d)", e.URL, e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("transfer of %s failed during %s", e.URL, e.Operation)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
