package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/storage"
)

// Repository is the storage surface the retention pass needs.
type Repository interface {
	GetExpiredDownloads(olderThan time.Duration) ([]storage.DownloadRecord, error)
	DeleteDownload(url string) error
}

// DeleteExpiredDownloads removes dataset files older than the retention
// window and drops their tracking records, so a later request for the same
// URL downloads it again instead of skipping.
func DeleteExpiredDownloads(ctx context.Context, repo Repository, keepFor time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	records, err := repo.GetExpiredDownloads(keepFor)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.FilePath != "" {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				logger.ErrorContext(ctx, "failed to delete expired file", "file", rec.FilePath, "err", err)

				continue
			}
		}

		if err := repo.DeleteDownload(rec.URL); err != nil {
			logger.ErrorContext(ctx, "failed to delete download record", "url", rec.URL, "err", err)

			continue
		}

		logger.InfoContext(ctx, "deleted expired dataset", "url", rec.URL, "file", rec.FilePath)
	}

	return nil
}
