package download

import (
	"context"

	"github.com/oceanscan/geofetch/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
	transport string
}

// NewInstrumentedFetcher creates a new instrumented fetcher. transport names
// the wrapped implementation in metrics (e.g. "http", "ftp").
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry, transport string) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
		transport: transport,
	}
}

// Fetch performs a transfer attempt with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	var result string

	var err error

	instrumentedErr := f.telemetry.InstrumentClientOperation(ctx, f.transport, "fetch", func(ctx context.Context) error {
		result, err = f.fetcher.Fetch(ctx, req)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return result, nil
}
