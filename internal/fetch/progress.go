package fetch

import (
	"context"
	"io"
)

// progressReader wraps an io.Reader and reports cumulative progress via a
// callback every reportInterval bytes.
type progressReader struct {
	reader         io.Reader
	total          int64
	onProgress     func(written int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

func newProgressReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *progressReader {
	return &progressReader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval {
			pr.onProgress(pr.totalRead, pr.total)
			pr.lastReport = 0
		}
	}

	return n, err
}

// contextReader aborts an in-flight copy as soon as ctx is done, for
// transports whose read path does not honor context on its own.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.reader.Read(p)
}
