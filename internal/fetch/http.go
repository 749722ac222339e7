package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/oceanscan/geofetch/internal/download"
	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/provider"
	"github.com/oceanscan/geofetch/internal/sink"
)

const progressReportBytes = 50 * 1024 * 1024 // 50MB between progress log lines

// HTTPFetcher transfers datasets over HTTP(S). It streams the response body
// straight to a staging file, so memory usage stays flat regardless of
// dataset size.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher. The timeout bounds the wait for response
// headers; the body copy itself can take as long as the dataset needs and is
// bounded by the request context instead.
func NewHTTPFetcher(timeout time.Duration, insecureSkipVerify bool) *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecureSkipVerify}
	transport.ResponseHeaderTimeout = timeout

	return &HTTPFetcher{
		client: &http.Client{Transport: transport},
	}
}

// Fetch performs one HTTP transfer attempt. Provider-declared soft failure
// codes surface as TransientError; a 401/403 against a token-based profile
// triggers exactly one credential invalidation and retry before failing hard.
func (f *HTTPFetcher) Fetch(ctx context.Context, req download.FetchRequest) (string, error) {
	target, err := f.fetch(ctx, req, false)

	var terr *download.TransferError
	if errors.As(err, &terr) && isAuthRejection(terr.StatusCode) && req.Profile.Auth == provider.AuthOAuth2ClientCredentials {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "credentials rejected, forcing token refresh",
			"url", req.URL, "status", terr.StatusCode)
		req.Auth.Invalidate()

		return f.fetch(ctx, req, true)
	}

	return target, err
}

func isAuthRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (f *HTTPFetcher) fetch(ctx context.Context, req download.FetchRequest, retried bool) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL)

	authCtx, err := req.Auth.Prepare(ctx)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", &download.TransferError{URL: req.URL, Operation: "request", Err: err}
	}

	authCtx.Apply(httpReq)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", &download.TransferError{URL: req.URL, Operation: "request", Err: err}
	}
	defer resp.Body.Close()

	// Provider-declared transient conditions win over every other status
	// interpretation, including auth rejections.
	if reason, ok := req.Profile.SoftFailureReason(resp.StatusCode); ok {
		return "", &download.TransientError{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Reason:     reason,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	// Any 2xx not claimed by the soft-failure map carries the payload.
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &download.TransferError{
			URL:        req.URL,
			Operation:  "request",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	name, err := artifactName(req, resp)
	if err != nil {
		return "", err
	}

	target := filepath.Join(req.TargetDir, name)

	fileSink, err := sink.NewFileSink(target)
	if err != nil {
		return "", &download.TransferError{URL: req.URL, Operation: "create", Err: err}
	}

	if retried {
		logger = logger.With("retried_after_rejection", true)
	}

	logger.InfoContext(ctx, "downloading dataset", "file", name, "size", humanize.Bytes(uint64(max(resp.ContentLength, 0))))

	written, err := f.copyBody(ctx, fileSink, resp, logger)
	if err != nil {
		fileSink.Discard()

		return "", err
	}

	if written == 0 {
		fileSink.Discard()

		return "", &download.TransferError{
			URL:       req.URL,
			Operation: "copy",
			Err:       errors.New("provider returned an empty response body"),
		}
	}

	if err := fileSink.Commit(); err != nil {
		fileSink.Discard()

		return "", &download.TransferError{URL: req.URL, Operation: "commit", Err: err}
	}

	logger.InfoContext(ctx, "dataset downloaded", "file", name, "size", humanize.Bytes(uint64(written)))

	return target, nil
}

func (f *HTTPFetcher) copyBody(ctx context.Context, dst io.Writer, resp *http.Response, logger *slog.Logger) (int64, error) {
	reader := newProgressReader(resp.Body, resp.ContentLength, progressReportBytes,
		func(written, total int64) {
			if total > 0 {
				logger.InfoContext(ctx, "download progress",
					"written", humanize.Bytes(uint64(written)),
					"total", humanize.Bytes(uint64(total)),
					"percent", written*100/total)
			} else {
				logger.InfoContext(ctx, "download progress", "written", humanize.Bytes(uint64(written)))
			}
		})

	written, err := io.Copy(dst, reader)
	if err != nil {
		return written, &download.TransferError{URL: resp.Request.URL.String(), Operation: "copy", Err: err}
	}

	return written, nil
}

// artifactName derives the stored file name, preferring the provider's
// Content-Disposition over the last URL path segment.
func artifactName(req download.FetchRequest, resp *http.Response) (string, error) {
	name := dispositionFilename(resp.Header.Get("Content-Disposition"))

	if name == "" {
		u, err := url.Parse(req.URL)
		if err != nil {
			return "", &download.TransferError{URL: req.URL, Operation: "name", Err: err}
		}

		name = path.Base(u.Path)
	}

	if name == "" || name == "." || name == "/" {
		return "", &download.TransferError{
			URL:       req.URL,
			Operation: "name",
			Err:       errors.New("could not derive a file name"),
		}
	}

	if req.FilePrefix != "" {
		name = req.FilePrefix + "_" + name
	}

	return name, nil
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	filename := strings.TrimSpace(params["filename"])
	if filename == "" {
		return ""
	}

	// Drop any path component a malicious provider might smuggle in.
	return path.Base(filename)
}

// parseRetryAfter handles both forms the header allows: delay seconds and an
// HTTP date. Unparseable values are ignored.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}

		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
