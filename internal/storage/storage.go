package storage

import (
	"errors"
	"time"
)

// ErrDownloaded signals that the dataset is already present locally and the
// request can be answered without a transfer.
var ErrDownloaded = errors.New("dataset already downloaded")

// DownloadRecord represents one tracked dataset download.
type DownloadRecord struct {
	URL          string
	Provider     string
	FilePath     string
	Status       string
	Reason       string
	DownloadedAt time.Time
}

// DownloadReadRepository serves queries over tracked downloads.
type DownloadReadRepository interface {
	GetDownloads() ([]DownloadRecord, error)
	GetDownload(url string) (*DownloadRecord, error)
	GetExpiredDownloads(olderThan time.Duration) ([]DownloadRecord, error)
}

// DownloadWriteRepository records download lifecycle transitions.
type DownloadWriteRepository interface {
	// TrackDownload registers a download attempt for url. It returns
	// ErrDownloaded when a successful download of url is already on record.
	TrackDownload(url, provider string) error
	CompleteDownload(url, filePath string) error
	FailDownload(url, reason string) error
	DeleteDownload(url string) error
}
