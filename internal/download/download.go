package download

import (
	"context"

	"github.com/oceanscan/geofetch/internal/auth"
	"github.com/oceanscan/geofetch/internal/provider"
)

// Status is the lifecycle state of one download request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// Request asks for one remote dataset to be materialized on local storage.
type Request struct {
	// URL of the dataset on the remote provider.
	URL string

	// TargetDir overrides the orchestrator's download directory when set.
	TargetDir string

	// FilePrefix, when set, is prepended to the stored file name as
	// "<prefix>_<name>".
	FilePrefix string
}

// Outcome is the terminal result of one request. Every request produces
// exactly one, whatever happened along the way.
type Outcome struct {
	URL      string
	Status   Status
	Path     string // Local path of the artifact, set on success only
	Provider string // Match prefix of the resolved profile, if any
	Reason   string // Human-readable failure summary, set on failure
	Attempts int    // Transfer attempts performed
	Err      error  // Terminal error, set on failure
}

// FetchRequest is one transfer attempt handed to a Fetcher. The profile has
// been resolved and a concurrency slot is already held by the caller.
type FetchRequest struct {
	URL        string
	Profile    *provider.Profile
	Auth       auth.Authenticator
	TargetDir  string
	FilePrefix string
}

// Fetcher performs a single transfer attempt over one transport scheme and
// stores the artifact. Implementations report transient provider conditions
// with TransientError and everything else with TransferError; retry policy
// lives with the caller.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (path string, err error)
}
