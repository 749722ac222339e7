package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/provider"
)

// oauth2Authenticator performs the client-credentials grant for one provider
// profile and caches the resulting token. The whole token lifecycle is
// serialized behind mu: concurrent Prepare calls that find an expired token
// wait for the first caller's refresh and reuse its result instead of issuing
// redundant token requests.
type oauth2Authenticator struct {
	providerKey string
	cfg         clientcredentials.Config
	opts        Options

	mu    sync.Mutex
	token *oauth2.Token
}

func newOAuth2Authenticator(p *provider.Profile, opts Options) *oauth2Authenticator {
	return &oauth2Authenticator{
		providerKey: p.Match,
		cfg: clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
			Scopes:       p.Scopes,
		},
		opts: opts,
	}
}

// Prepare returns a bearer context backed by a cached token, refreshing it
// first when it is missing or within the safety margin of expiry.
func (a *oauth2Authenticator) Prepare(ctx context.Context) (Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.tokenValid() {
		token, err := a.refresh(ctx)
		if err != nil {
			a.token = nil

			return Context{}, &Error{Provider: a.providerKey, Operation: "token_exchange", Err: err}
		}

		a.token = token
	}

	return Context{
		authType: provider.AuthOAuth2ClientCredentials,
		token:    a.token.AccessToken,
	}, nil
}

// Invalidate discards the cached token so the next Prepare performs a fresh
// exchange. Used after the resource endpoint rejects a request with 401/403.
func (a *oauth2Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.token = nil
}

// tokenValid reports whether the cached token can still be handed out. A
// token inside the refresh margin counts as expired. Callers must hold mu.
func (a *oauth2Authenticator) tokenValid() bool {
	if a.token == nil || a.token.AccessToken == "" {
		return false
	}

	if a.token.Expiry.IsZero() {
		return true
	}

	return time.Until(a.token.Expiry) > a.opts.RefreshMargin
}

// refresh performs the client-credentials exchange with a bounded number of
// attempts. 4xx responses from the token endpoint are permanent; retrying
// them would only burn the attempt budget. Callers must hold mu.
func (a *oauth2Authenticator) refresh(ctx context.Context) (*oauth2.Token, error) {
	logger := logctx.LoggerFromContext(ctx).With("provider", a.providerKey)
	logger.Debug("refreshing oauth2 token")

	if a.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
	}

	operation := func() (*oauth2.Token, error) {
		token, err := a.cfg.Token(ctx)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
				retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}

			logger.Warn("token endpoint call failed, will retry", "err", err)

			return nil, err
		}

		return token, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.InitialRetryInterval

	token, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.opts.MaxTokenAttempts-1)), ctx),
	)

	if a.opts.OnRefresh != nil {
		status := "success"
		if err != nil {
			status = "error"
		}

		a.opts.OnRefresh(status)
	}

	if err != nil {
		return nil, err
	}

	logger.Debug("oauth2 token refreshed", "expires_at", token.Expiry)

	return token, nil
}
