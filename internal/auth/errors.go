package auth

import "fmt"

// Error represents a failed credential acquisition, typically a token
// endpoint rejecting a client-credentials exchange. It is a hard failure:
// the orchestrator must not retry the resource endpoint with it.
type Error struct {
	Provider  string // The profile match prefix the exchange was performed for
	Operation string // The step that failed (e.g. "token_exchange")
	Err       error  // Underlying error, if any
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed for %s during %s", e.Provider, e.Operation)
}

func (e *Error) Unwrap() error {
	return e.Err
}
