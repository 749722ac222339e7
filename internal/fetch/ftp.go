package fetch

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jlaffaye/ftp"

	"github.com/oceanscan/geofetch/internal/download"
	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/sink"
)

const (
	defaultFTPPort = "21"

	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous"
)

// FTPFetcher transfers datasets over FTP. Anonymous providers log in with the
// conventional anonymous credentials; no credential lookup happens for them.
type FTPFetcher struct {
	timeout time.Duration
}

func NewFTPFetcher(timeout time.Duration) *FTPFetcher {
	return &FTPFetcher{timeout: timeout}
}

// Fetch performs one FTP transfer attempt. Protocol replies in the 4xx range
// are transient by definition and map to TransientError, honoring any
// provider-declared reason for the specific code.
func (f *FTPFetcher) Fetch(ctx context.Context, req download.FetchRequest) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL)

	u, err := url.Parse(req.URL)
	if err != nil {
		return "", &download.TransferError{URL: req.URL, Operation: "request", Err: err}
	}

	addr := u.Host
	if u.Port() == "" {
		addr = u.Host + ":" + defaultFTPPort
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return "", f.classify(req, "dial", err)
	}
	defer conn.Quit()

	username, password := anonymousUser, anonymousPassword

	authCtx, err := req.Auth.Prepare(ctx)
	if err != nil {
		return "", err
	}

	if user, pass, ok := authCtx.BasicCredentials(); ok {
		username, password = user, pass
	}

	if err := conn.Login(username, password); err != nil {
		return "", f.classify(req, "login", err)
	}

	name := path.Base(u.Path)
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

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return "", f.classify(req, "retrieve", err)
	}
	defer resp.Close()

	target := filepath.Join(req.TargetDir, name)

	fileSink, err := sink.NewFileSink(target)
	if err != nil {
		return "", &download.TransferError{URL: req.URL, Operation: "create", Err: err}
	}

	logger.InfoContext(ctx, "downloading dataset", "file", name)

	written, err := io.Copy(fileSink, &contextReader{ctx: ctx, reader: resp})
	if err != nil {
		fileSink.Discard()

		return "", f.classify(req, "copy", err)
	}

	if written == 0 {
		fileSink.Discard()

		return "", &download.TransferError{
			URL:       req.URL,
			Operation: "copy",
			Err:       errors.New("provider returned an empty file"),
		}
	}

	if err := fileSink.Commit(); err != nil {
		fileSink.Discard()

		return "", &download.TransferError{URL: req.URL, Operation: "commit", Err: err}
	}

	logger.InfoContext(ctx, "dataset downloaded", "file", name, "size", humanize.Bytes(uint64(written)))

	return target, nil
}

// classify maps FTP protocol errors onto the failure taxonomy. Reply codes in
// the 4xx range mean "try again later" per the protocol, so they become
// transient whether or not the provider declared them.
func (f *FTPFetcher) classify(req download.FetchRequest, operation string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if reason, ok := req.Profile.SoftFailureReason(protoErr.Code); ok {
			return &download.TransientError{
				URL:        req.URL,
				StatusCode: protoErr.Code,
				Reason:     reason,
			}
		}

		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return &download.TransientError{
				URL:        req.URL,
				StatusCode: protoErr.Code,
				Reason:     protoErr.Msg,
			}
		}

		return &download.TransferError{
			URL:        req.URL,
			Operation:  operation,
			StatusCode: protoErr.Code,
			Err:        err,
		}
	}

	return &download.TransferError{URL: req.URL, Operation: operation, Err: err}
}
