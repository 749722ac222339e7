package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/oceanscan/geofetch/internal/auth"
	"github.com/oceanscan/geofetch/internal/gate"
	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/provider"
	"github.com/oceanscan/geofetch/internal/storage"
	"github.com/oceanscan/geofetch/internal/telemetry"
)

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = time.Minute
	defaultMaxBackoff     = 15 * time.Minute
)

// Tracker persists download lifecycle transitions. It is the write side the
// orchestrator needs plus the single-record lookup used for idempotent skips.
type Tracker interface {
	TrackDownload(url, provider string) error
	CompleteDownload(url, filePath string) error
	FailDownload(url, reason string) error
	GetDownload(url string) (*storage.DownloadRecord, error)
}

// Options tune an Orchestrator.
type Options struct {
	// TargetDir is the default directory datasets are stored under.
	TargetDir string

	// MaxAttempts bounds transfer attempts per request, counting the first.
	// Defaults to 5.
	MaxAttempts int

	// InitialBackoff seeds the wait between attempts after a transient
	// provider condition. Grows exponentially with jitter, capped at
	// MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxGlobal caps in-flight transfers across all providers.
	// Zero means unlimited.
	MaxGlobal int

	// Auth tunes the token-based authenticators built per profile.
	Auth auth.Options
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}

	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}

	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}

	return o
}

// Orchestrator turns download requests into outcomes. It resolves the
// provider profile, enforces per-provider and global concurrency ceilings,
// retries provider-declared transient conditions with exponential backoff,
// and records every lifecycle transition. Each request yields exactly one
// Outcome; failures never abort sibling requests.
type Orchestrator struct {
	registry *provider.Registry
	fetchers map[string]Fetcher
	tracker  Tracker
	gates    *gate.Pool
	global   *semaphore.Weighted
	tel      *telemetry.Telemetry
	opts     Options

	mu    sync.Mutex
	auths map[string]auth.Authenticator
}

// NewOrchestrator builds an orchestrator. fetchers maps URL schemes (http,
// https, ftp) to the transport that serves them. tracker and tel may be nil.
func NewOrchestrator(
	registry *provider.Registry,
	fetchers map[string]Fetcher,
	tracker Tracker,
	tel *telemetry.Telemetry,
	opts Options,
) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		fetchers: fetchers,
		tracker:  tracker,
		gates:    gate.NewPool(),
		tel:      tel,
		opts:     opts.withDefaults(),
		auths:    make(map[string]auth.Authenticator),
	}

	if o.opts.MaxGlobal > 0 {
		o.global = semaphore.NewWeighted(int64(o.opts.MaxGlobal))
	}

	return o
}

// Batch downloads every request concurrently and returns one outcome per
// request, in request order.
func (o *Orchestrator) Batch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var wg errgroup.Group

	for i, req := range reqs {
		wg.Go(func() error {
			outcomes[i] = o.Download(ctx, req)

			// Outcomes carry the failures; returning an error here would
			// cancel sibling downloads.
			return nil
		})
	}

	_ = wg.Wait()

	return outcomes
}

// Download runs one request to completion and returns its outcome.
func (o *Orchestrator) Download(ctx context.Context, req Request) Outcome {
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL)

	profile, err := o.registry.Resolve(req.URL)
	if err != nil {
		return o.fail(Outcome{URL: req.URL}, "no provider configured for this URL", err)
	}

	outcome := Outcome{URL: req.URL, Provider: profile.Match, Status: StatusPending}

	if o.tracker != nil {
		if err := o.tracker.TrackDownload(req.URL, profile.Match); err != nil {
			if errors.Is(err, storage.ErrDownloaded) {
				return o.alreadyDownloaded(ctx, outcome)
			}

			return o.fail(outcome, "failed to track download", err)
		}
	}

	fetcher, err := o.fetcherFor(req.URL)
	if err != nil {
		return o.recordFailure(ctx, o.fail(outcome, "unsupported URL scheme", err))
	}

	authenticator, err := o.authenticatorFor(profile)
	if err != nil {
		return o.recordFailure(ctx, o.fail(outcome, "invalid authentication configuration", err))
	}

	targetDir := o.opts.TargetDir
	if req.TargetDir != "" {
		targetDir = req.TargetDir
	}

	fetchReq := FetchRequest{
		URL:        req.URL,
		Profile:    profile,
		Auth:       authenticator,
		TargetDir:  targetDir,
		FilePrefix: req.FilePrefix,
	}

	outcome.Status = StatusInFlight

	// Jittered exponential waits keep requests that soft-fail together from
	// retrying against the provider in lockstep.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.opts.InitialBackoff
	bo.MaxInterval = o.opts.MaxBackoff
	bo.MaxElapsedTime = 0

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		path, err := o.attempt(ctx, fetcher, fetchReq, profile)
		if err == nil {
			outcome.Status = StatusSuccess
			outcome.Path = path

			if o.tracker != nil {
				if terr := o.tracker.CompleteDownload(req.URL, path); terr != nil {
					logger.ErrorContext(ctx, "failed to record completed download", "err", terr)
				}
			}

			o.tel.RecordDownload(ctx, profile.Match, string(StatusSuccess))

			return outcome
		}

		var transientErr *TransientError
		if !errors.As(err, &transientErr) {
			return o.recordFailure(ctx, o.fail(outcome, failureReason(err), err))
		}

		if attempt == o.opts.MaxAttempts {
			return o.recordFailure(ctx, o.fail(outcome,
				fmt.Sprintf("gave up after %d attempts: %s", attempt, transientErr.Reason), err))
		}

		delay := bo.NextBackOff()
		if transientErr.RetryAfter > delay {
			delay = transientErr.RetryAfter
		}

		if delay > o.opts.MaxBackoff {
			delay = o.opts.MaxBackoff
		}

		logger.InfoContext(ctx, "provider reported a temporary condition, backing off",
			"reason", transientErr.Reason, "attempt", attempt, "wait", delay)

		if err := sleepCtx(ctx, delay); err != nil {
			return o.recordFailure(ctx, o.fail(outcome, "download canceled", err))
		}
	}

	// Unreachable: the loop always returns.
	return outcome
}

// attempt performs one gated transfer. The slot is held only for the duration
// of the transfer itself, never across backoff waits.
func (o *Orchestrator) attempt(ctx context.Context, fetcher Fetcher, req FetchRequest, profile *provider.Profile) (string, error) {
	if o.global != nil {
		if err := o.global.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer o.global.Release(1)
	}

	waitStart := time.Now()

	slot, err := o.gates.Acquire(ctx, profile.Match, profile.MaxParallel)
	if err != nil {
		return "", err
	}
	defer slot.Release()

	o.tel.RecordGateWait(ctx, profile.Match, time.Since(waitStart))

	return fetcher.Fetch(ctx, req)
}

func (o *Orchestrator) fetcherFor(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	fetcher, ok := o.fetchers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for scheme %q", u.Scheme)
	}

	return fetcher, nil
}

// authenticatorFor returns the shared authenticator for a profile, creating
// it on first use. Sharing matters for token-based profiles: every request
// against the same provider reuses one cached token.
func (o *Orchestrator) authenticatorFor(profile *provider.Profile) (auth.Authenticator, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if a, ok := o.auths[profile.Match]; ok {
		return a, nil
	}

	a, err := auth.New(profile, o.opts.Auth)
	if err != nil {
		return nil, err
	}

	o.auths[profile.Match] = a

	return a, nil
}

func (o *Orchestrator) alreadyDownloaded(ctx context.Context, outcome Outcome) Outcome {
	outcome.Status = StatusSuccess

	if record, err := o.tracker.GetDownload(outcome.URL); err == nil && record != nil {
		outcome.Path = record.FilePath
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "dataset already downloaded, skipping",
		"url", outcome.URL, "path", outcome.Path)

	return outcome
}

func (o *Orchestrator) fail(outcome Outcome, reason string, err error) Outcome {
	outcome.Status = StatusFailed
	outcome.Reason = reason
	outcome.Err = err

	return outcome
}

func (o *Orchestrator) recordFailure(ctx context.Context, outcome Outcome) Outcome {
	if o.tracker != nil {
		if err := o.tracker.FailDownload(outcome.URL, outcome.Reason); err != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record failed download",
				"url", outcome.URL, "err", err)
		}
	}

	o.tel.RecordDownload(ctx, outcome.Provider, string(StatusFailed))

	return outcome
}

func failureReason(err error) string {
	var transferErr *TransferError
	if errors.As(err, &transferErr) && transferErr.StatusCode != 0 {
		return fmt.Sprintf("transfer failed with status %d", transferErr.StatusCode)
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return "authentication failed"
	}

	return "transfer failed"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
