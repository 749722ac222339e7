package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanscan/geofetch/internal/auth"
	"github.com/oceanscan/geofetch/internal/download"
	"github.com/oceanscan/geofetch/internal/fetch"
	"github.com/oceanscan/geofetch/internal/provider"
)

func basicProfile(match string, codes map[int]string) *provider.Profile {
	return &provider.Profile{
		Match:            match,
		Auth:             provider.AuthBasic,
		Username:         "alice",
		Password:         "s3cret",
		MaxParallel:      2,
		SoftFailureCodes: codes,
	}
}

func authenticatorFor(t *testing.T, p *provider.Profile, opts auth.Options) auth.Authenticator {
	t.Helper()

	a, err := auth.New(p, opts)
	require.NoError(t, err)

	return a
}

func TestHTTPFetcher_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", username)
		assert.Equal(t, "s3cret", password)

		w.Header().Set("Content-Disposition", `attachment; filename="S1A_IW_GRDH.zip"`)
		fmt.Fprint(w, "dataset-bytes")
	}))
	defer ts.Close()

	profile := basicProfile(ts.URL, nil)
	fetcher := fetch.NewHTTPFetcher(0, false)
	targetDir := t.TempDir()

	path, err := fetcher.Fetch(context.Background(), download.FetchRequest{
		URL:       ts.URL + "/odata/Products('uuid')/$value",
		Profile:   profile,
		Auth:      authenticatorFor(t, profile, auth.Options{}),
		TargetDir: targetDir,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(targetDir, "S1A_IW_GRDH.zip"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dataset-bytes", string(data))
}

func TestHTTPFetcher_FileNaming(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		urlPath     string
		filePrefix  string
		wantName    string
	}{
		{"from content disposition", `attachment; filename="granule.nc"`, "/data/other.bin", "", "granule.nc"},
		{"from url path", "", "/data/granule.nc", "", "granule.nc"},
		{"prefix prepended", "", "/data/granule.nc", "job42", "job42_granule.nc"},
		{"path stripped from disposition", `attachment; filename="../../evil.sh"`, "/data/x", "", "evil.sh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.disposition != "" {
					w.Header().Set("Content-Disposition", tt.disposition)
				}

				fmt.Fprint(w, "content")
			}))
			defer ts.Close()

			profile := basicProfile(ts.URL, nil)
			fetcher := fetch.NewHTTPFetcher(0, false)
			targetDir := t.TempDir()

			path, err := fetcher.Fetch(context.Background(), download.FetchRequest{
				URL:        ts.URL + tt.urlPath,
				Profile:    profile,
				Auth:       authenticatorFor(t, profile, auth.Options{}),
				TargetDir:  targetDir,
				FilePrefix: tt.filePrefix,
			})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(targetDir, tt.wantName), path)
		})
	}
}

func TestHTTPFetcher_SoftFailureCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	profile := basicProfile(ts.URL, map[int]string{202: "dataset is offline"})
	fetcher := fetch.NewHTTPFetcher(0, false)

	_, err := fetcher.Fetch(context.Background(), download.FetchRequest{
		URL:       ts.URL + "/data/granule.nc",
		Profile:   profile,
		Auth:      authenticatorFor(t, profile, auth.Options{}),
		TargetDir: t.TempDir(),
	})

	var transientErr *download.TransientError
	require.ErrorAs(t, err, &transientErr)
	assert.Equal(t, 202, transientErr.StatusCode)
	assert.Equal(t, "dataset is offline", transientErr.Reason)
	assert.Equal(t, 2*time.Minute, transientErr.RetryAfter)
}

func TestHTTPFetcher_AnySuccessStatusCarriesPayload(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"non-authoritative", http.StatusNonAuthoritativeInfo},
		{"partial content", http.StatusPartialContent},
		{"undeclared accepted", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, "dataset-bytes")
			}))
			defer ts.Close()

			profile := basicProfile(ts.URL, nil)
			fetcher := fetch.NewHTTPFetcher(0, false)
			targetDir := t.TempDir()

			path, err := fetcher.Fetch(context.Background(), download.FetchRequest{
				URL:       ts.URL + "/data/granule.nc",
				Profile:   profile,
				Auth:      authenticatorFor(t, profile, auth.Options{}),
				TargetDir: targetDir,
			})
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "dataset-bytes", string(data))
		})
	}
}

func TestHTTPFetcher_UndeclaredStatusIsHardFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	profile := basicProfile(ts.URL, map[int]string{202: "dataset is offline"})
	fetcher := fetch.NewHTTPFetcher(0, false)

	_, err := fetcher.Fetch(context.Background(), download.FetchRequest{
		URL:       ts.URL + "/data/granule.nc",
		Profile:   profile,
		Auth:      authenticatorFor(t, profile, auth.Options{}),
		TargetDir: t.TempDir(),
	})

	var transferErr *download.TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, http.StatusNotFound, transferErr.StatusCode)
}

func TestHTTPFetcher_EmptyBodyIsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	profile := basicProfile(ts.URL, nil)
	fetcher := fetch.NewHTTPFetcher(0, false)
	targetDir := t.TempDir()

	_, err := fetcher.Fetch(context.Background(), download.FetchRequest{
		URL:       ts.URL + "/data/granule.nc",
		Profile:   profile,
		Auth:      authenticatorFor(t, profile, auth.Options{}),
		TargetDir: targetDir,
	})
	require.Error(t, err)

	entries, err := os.ReadDir(targetDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed transfer must not leave artifacts behind")
}

func TestHTTPFetcher_RejectionForcesTokenRefresh(t *testing.T) {
	var tokenCalls atomic.Int64

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, call)
	}))
	defer tokenSrv.Close()

	var dataCalls atomic.Int64

	dataSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dataCalls.Add(1) == 1 {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, "dataset-bytes")
	}))
	defer dataSrv.Close()

	profile := &provider.Profile{
		Match:        dataSrv.URL,
		Auth:         provider.AuthOAuth2ClientCredentials,
		TokenURL:     tokenSrv.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}

	fetcher := fetch.NewHTTPFetcher(0, false)
	targetDir := t.TempDir()

	path, err := fetcher.Fetch(context.Background(), download.FetchRequest{
		URL:       dataSrv.URL + "/data/granule.nc",
		Profile:   profile,
		Auth:      authenticatorFor(t, profile, auth.Options{HTTPClient: tokenSrv.Client()}),
		TargetDir: targetDir,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, tokenCalls.Load(), "rejection must invalidate the cached token exactly once")
	assert.EqualValues(t, 2, dataCalls.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dataset-bytes", string(data))
}

func TestHTTPFetcher_SoftCodeWinsOverRejectionHandling(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	var dataCalls atomic.Int64

	dataSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dataCalls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer dataSrv.Close()

	// The provider declares 403 as a transient condition, so it must be
	// treated as one instead of triggering a token refresh.
	profile := &provider.Profile{
		Match:            dataSrv.URL,
		Auth:             provider.AuthOAuth2ClientCredentials,
		TokenURL:         tokenSrv.URL,
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		SoftFailureCodes: map[int]string{403: "quota exhausted, retry later"},
	}

	fetcher := fetch.NewHTTPFetcher(0, false)

	_, err := fetcher.Fetch(context.Background(), download.FetchRequest{
		URL:       dataSrv.URL + "/data/granule.nc",
		Profile:   profile,
		Auth:      authenticatorFor(t, profile, auth.Options{HTTPClient: tokenSrv.Client()}),
		TargetDir: t.TempDir(),
	})

	var transientErr *download.TransientError
	require.ErrorAs(t, err, &transientErr)
	assert.Equal(t, "quota exhausted, retry later", transientErr.Reason)
	assert.EqualValues(t, 1, dataCalls.Load())
}
