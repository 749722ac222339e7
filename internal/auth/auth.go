package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oceanscan/geofetch/internal/provider"
)

const (
	defaultRefreshMargin    = 30 * time.Second
	defaultMaxTokenAttempts = 3
	defaultRetryInterval    = time.Second
)

// Context is the credential material prepared for a single transfer. It can
// be attached to an outgoing HTTP request, and exposes raw credentials for
// transports that don't speak HTTP headers (FTP).
type Context struct {
	authType provider.AuthType
	username string
	password string
	token    string
}

// Type returns the strategy that produced this context.
func (c Context) Type() provider.AuthType {
	return c.authType
}

// Apply attaches the credentials to an outgoing HTTP request.
func (c Context) Apply(req *http.Request) {
	switch c.authType {
	case provider.AuthBasic:
		req.SetBasicAuth(c.username, c.password)
	case provider.AuthOAuth2ClientCredentials:
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// BasicCredentials returns the username/password pair for strategies that
// carry one. ok is false for anonymous and token-based contexts.
func (c Context) BasicCredentials() (username, password string, ok bool) {
	if c.authType != provider.AuthBasic {
		return "", "", false
	}

	return c.username, c.password, true
}

// Authenticator prepares credential contexts for one provider profile.
// Token-based implementations own the token lifecycle: acquisition on first
// use, transparent renewal before expiry, invalidation after a rejection.
type Authenticator interface {
	Prepare(ctx context.Context) (Context, error)
	// Invalidate discards any cached credential state so that the next
	// Prepare call performs a fresh acquisition. No-op for static
	// strategies.
	Invalidate()
}

// Options tune the token-based strategies.
type Options struct {
	// RefreshMargin is the safety window before expiry within which a
	// cached token is never handed out. Defaults to 30s.
	RefreshMargin time.Duration

	// MaxTokenAttempts bounds token-endpoint calls per refresh. Defaults to 3.
	MaxTokenAttempts int

	// InitialRetryInterval seeds the exponential backoff between
	// token-endpoint attempts. Defaults to 1s.
	InitialRetryInterval time.Duration

	// HTTPClient is used for the token-endpoint exchange. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// OnRefresh, when set, is invoked after every refresh attempt with
	// "success" or "error". Used for metrics.
	OnRefresh func(status string)
}

func (o Options) withDefaults() Options {
	if o.RefreshMargin <= 0 {
		o.RefreshMargin = defaultRefreshMargin
	}

	if o.MaxTokenAttempts <= 0 {
		o.MaxTokenAttempts = defaultMaxTokenAttempts
	}

	if o.InitialRetryInterval <= 0 {
		o.InitialRetryInterval = defaultRetryInterval
	}

	return o
}

// New builds the authenticator for a provider profile.
func New(p *provider.Profile, opts Options) (Authenticator, error) {
	switch p.Auth {
	case provider.AuthNone, "":
		return noneAuthenticator{}, nil
	case provider.AuthBasic:
		return &basicAuthenticator{username: p.Username, password: p.Password}, nil
	case provider.AuthOAuth2ClientCredentials:
		return newOAuth2Authenticator(p, opts.withDefaults()), nil
	}

	return nil, fmt.Errorf("unsupported authentication type %q", p.Auth)
}

type noneAuthenticator struct{}

func (noneAuthenticator) Prepare(context.Context) (Context, error) {
	return Context{authType: provider.AuthNone}, nil
}

func (noneAuthenticator) Invalidate() {}

type basicAuthenticator struct {
	username string
	password string
}

func (a *basicAuthenticator) Prepare(context.Context) (Context, error) {
	return Context{
		authType: provider.AuthBasic,
		username: a.username,
		password: a.password,
	}, nil
}

// Invalidate is a no-op: basic credentials are static and never refreshed.
func (a *basicAuthenticator) Invalidate() {}
