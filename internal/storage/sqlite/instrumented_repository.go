package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/oceanscan/geofetch/internal/storage"
	"github.com/oceanscan/geofetch/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_downloads", func(ctx context.Context) error {
		result, err = r.repo.GetDownloads()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) GetDownload(url string) (*storage.DownloadRecord, error) {
	var result *storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_download", func(ctx context.Context) error {
		result, err = r.repo.GetDownload(url)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) GetExpiredDownloads(olderThan time.Duration) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_expired_downloads", func(ctx context.Context) error {
		result, err = r.repo.GetExpiredDownloads(olderThan)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) TrackDownload(url, provider string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(url, provider)
	})
}

func (r *InstrumentedDownloadRepository) CompleteDownload(url, filePath string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "complete_download", func(ctx context.Context) error {
		return r.repo.CompleteDownload(url, filePath)
	})
}

func (r *InstrumentedDownloadRepository) FailDownload(url, reason string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "fail_download", func(ctx context.Context) error {
		return r.repo.FailDownload(url, reason)
	})
}

func (r *InstrumentedDownloadRepository) DeleteDownload(url string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "delete_download", func(ctx context.Context) error {
		return r.repo.DeleteDownload(url)
	})
}
