package provider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanscan/geofetch/internal/provider"
)

func envResolver(t *testing.T, env map[string]string) *provider.CredentialResolver {
	t.Helper()

	return provider.NewCredentialResolverFunc(func(name string) (string, bool) {
		value, ok := env[name]

		return value, ok
	})
}

const settingsDoc = `
unmatched_url_policy: reject
providers:
  'https://scihub.copernicus.eu':
    username: !ENV 'HUB_USERNAME'
    password: !ENV 'HUB_PASSWORD'
    max_parallel_downloads: 2
    invalid_status_codes:
      202: 'dataset is offline'
  'https://scihub.copernicus.eu/dhus/odata':
    username: 'odata-user'
    password: 'odata-pass'
    max_parallel_downloads: 1
  'ftp://anon-ftp.ceda.ac.uk':
    authentication_type: 'none'
    max_parallel_downloads: 5
  'https://zipper.creodias.eu':
    authentication_type: 'oauth2_client_credentials'
    token_url: 'https://identity.cloudferro.com/token'
    client_id: 'public'
    client_secret: !ENV 'CREODIAS_SECRET'
`

func TestParseRegistry(t *testing.T) {
	resolver := envResolver(t, map[string]string{
		"HUB_USERNAME":    "alice",
		"HUB_PASSWORD":    "s3cret",
		"CREODIAS_SECRET": "oauth-secret",
	})

	registry, err := provider.ParseRegistry([]byte(settingsDoc), resolver)
	require.NoError(t, err)
	assert.Len(t, registry.Profiles(), 4)
	assert.Equal(t, provider.UnmatchedReject, registry.Policy())
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	resolver := envResolver(t, map[string]string{
		"HUB_USERNAME":    "alice",
		"HUB_PASSWORD":    "s3cret",
		"CREODIAS_SECRET": "oauth-secret",
	})

	registry, err := provider.ParseRegistry([]byte(settingsDoc), resolver)
	require.NoError(t, err)

	tests := []struct {
		name         string
		url          string
		wantMatch    string
		wantUsername string
	}{
		{
			"general prefix",
			"https://scihub.copernicus.eu/dhus/search?q=foo",
			"https://scihub.copernicus.eu",
			"alice",
		},
		{
			"more specific prefix wins",
			"https://scihub.copernicus.eu/dhus/odata/v1/Products",
			"https://scihub.copernicus.eu/dhus/odata",
			"odata-user",
		},
		{
			"ftp provider",
			"ftp://anon-ftp.ceda.ac.uk/neodc/esacci/file.nc",
			"ftp://anon-ftp.ceda.ac.uk",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := registry.Resolve(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, profile.Match)
			assert.Equal(t, tt.wantUsername, profile.Username)
		})
	}
}

func TestResolve_UnmatchedPolicies(t *testing.T) {
	resolver := envResolver(t, nil)

	rejectDoc := `
unmatched_url_policy: reject
providers:
  'https://example.com':
    authentication_type: 'none'
`

	registry, err := provider.ParseRegistry([]byte(rejectDoc), resolver)
	require.NoError(t, err)

	_, err = registry.Resolve("https://other.example.org/file.nc")

	var unknownErr *provider.UnknownProviderError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "https://other.example.org/file.nc", unknownErr.URL)

	allowDoc := `
unmatched_url_policy: allow
providers:
  'https://example.com':
    authentication_type: 'none'
`

	registry, err = provider.ParseRegistry([]byte(allowDoc), resolver)
	require.NoError(t, err)

	profile, err := registry.Resolve("https://other.example.org/file.nc")
	require.NoError(t, err)
	assert.Equal(t, provider.AuthNone, profile.Auth)
	assert.True(t, profile.Unlimited())
}

func TestParseRegistry_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		env  map[string]string
	}{
		{
			"duplicate prefix",
			`
providers:
  'https://example.com':
    authentication_type: 'none'
  'https://example.com':
    authentication_type: 'none'
`,
			nil,
		},
		{
			"missing credential env var",
			`
providers:
  'https://example.com':
    username: !ENV 'NOT_SET_ANYWHERE'
`,
			nil,
		},
		{
			"invalid prefix",
			`
providers:
  'not a url':
    authentication_type: 'none'
`,
			nil,
		},
		{
			"negative parallel limit",
			`
providers:
  'https://example.com':
    authentication_type: 'none'
    max_parallel_downloads: -1
`,
			nil,
		},
		{
			"oauth2 without token_url",
			`
providers:
  'https://example.com':
    authentication_type: 'oauth2_client_credentials'
    client_id: 'public'
`,
			nil,
		},
		{
			"unknown authentication type",
			`
providers:
  'https://example.com':
    authentication_type: 'kerberos'
`,
			nil,
		},
		{
			"basic auth without username",
			`
providers:
  'https://example.com':
    authentication_type: 'basic'
`,
			nil,
		},
		{
			"unknown policy",
			`
unmatched_url_policy: maybe
providers:
  'https://example.com':
    authentication_type: 'none'
`,
			nil,
		},
		{"no providers", `providers: {}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.ParseRegistry([]byte(tt.doc), envResolver(t, tt.env))
			assert.Error(t, err)
		})
	}
}

func TestParseRegistry_TrailingSlashPrefixesAreAmbiguous(t *testing.T) {
	// Distinct YAML keys that normalize to the same prefix must fail the
	// load instead of silently shadowing one limit with the other.
	doc := `
providers:
  'https://example.com':
    authentication_type: 'none'
    max_parallel_downloads: 1
  'https://example.com/':
    authentication_type: 'none'
    max_parallel_downloads: 7
`

	_, err := provider.ParseRegistry([]byte(doc), envResolver(t, nil))

	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "ambiguous")
}

func TestParseRegistry_MissingCredentialIsTyped(t *testing.T) {
	doc := `
providers:
  'https://example.com':
    username: !ENV 'NOT_SET_ANYWHERE'
`

	_, err := provider.ParseRegistry([]byte(doc), envResolver(t, nil))

	var missingErr *provider.MissingCredentialError
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, "NOT_SET_ANYWHERE", missingErr.EnvVar)
}

func TestParseRegistry_AuthTypeInference(t *testing.T) {
	doc := `
providers:
  'https://with-user.example.com':
    username: 'bob'
    password: 'pw'
  'https://bare.example.com': {}
`

	registry, err := provider.ParseRegistry([]byte(doc), envResolver(t, nil))
	require.NoError(t, err)

	withUser, err := registry.Resolve("https://with-user.example.com/data")
	require.NoError(t, err)
	assert.Equal(t, provider.AuthBasic, withUser.Auth)

	bare, err := registry.Resolve("https://bare.example.com/data")
	require.NoError(t, err)
	assert.Equal(t, provider.AuthNone, bare.Auth)
}

func TestParseRegistry_AnonymousProviderNeverResolvesCredentials(t *testing.T) {
	doc := `
providers:
  'ftp://anon-ftp.ceda.ac.uk':
    authentication_type: 'none'
`

	resolver := provider.NewCredentialResolverFunc(func(name string) (string, bool) {
		t.Fatalf("unexpected credential lookup for %q", name)

		return "", false
	})

	registry, err := provider.ParseRegistry([]byte(doc), resolver)
	require.NoError(t, err)

	profile, err := registry.Resolve("ftp://anon-ftp.ceda.ac.uk/neodc/file.nc")
	require.NoError(t, err)
	assert.Equal(t, provider.AuthNone, profile.Auth)
}

func TestProfile_SoftFailureReason(t *testing.T) {
	resolver := envResolver(t, map[string]string{
		"HUB_USERNAME":    "alice",
		"HUB_PASSWORD":    "s3cret",
		"CREODIAS_SECRET": "oauth-secret",
	})

	registry, err := provider.ParseRegistry([]byte(settingsDoc), resolver)
	require.NoError(t, err)

	profile, err := registry.Resolve("https://scihub.copernicus.eu/dhus/search")
	require.NoError(t, err)

	reason, ok := profile.SoftFailureReason(202)
	assert.True(t, ok)
	assert.Equal(t, "dataset is offline", reason)

	_, ok = profile.SoftFailureReason(503)
	assert.False(t, ok)
}

func TestProfile_DefaultParallelLimit(t *testing.T) {
	doc := `
providers:
  'https://example.com':
    authentication_type: 'none'
`

	registry, err := provider.ParseRegistry([]byte(doc), envResolver(t, nil))
	require.NoError(t, err)

	profile, err := registry.Resolve("https://example.com/data")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.MaxParallel)
	assert.False(t, profile.Unlimited())
}
