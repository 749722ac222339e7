package sqlite

import (
	"database/sql"
	"time"

	"github.com/oceanscan/geofetch/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

func (r *DownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(`SELECT url, provider, file_path, status, reason, downloaded_at FROM downloads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *DownloadRepository) GetDownload(url string) (*storage.DownloadRecord, error) {
	row := r.db.QueryRow(`SELECT url, provider, file_path, status, reason, downloaded_at FROM downloads WHERE url = ?`, url)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &record, nil
}

// GetExpiredDownloads returns successful downloads older than the retention
// window, for the cleanup pass.
func (r *DownloadRepository) GetExpiredDownloads(olderThan time.Duration) ([]storage.DownloadRecord, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	rows, err := r.db.Query(
		`SELECT url, provider, file_path, status, reason, downloaded_at
		 FROM downloads WHERE status = 'success' AND downloaded_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// TrackDownload registers a download attempt. A previous successful download
// of the same URL short-circuits with storage.ErrDownloaded so the caller can
// skip the transfer.
func (r *DownloadRepository) TrackDownload(url, provider string) error {
	var status string

	err := r.db.QueryRow(`SELECT status FROM downloads WHERE url = ?`, url).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if status == "success" {
		return storage.ErrDownloaded
	}

	_, err = r.db.Exec(`
		INSERT INTO downloads (url, provider, status, reason, downloaded_at)
		VALUES (?, ?, 'in_flight', '', ?)
		ON CONFLICT(url) DO UPDATE SET
			provider = excluded.provider,
			status = 'in_flight',
			reason = ''
	`, url, provider, time.Now().UTC().Format(time.RFC3339))

	return err
}

func (r *DownloadRepository) CompleteDownload(url, filePath string) error {
	_, err := r.db.Exec(
		`UPDATE downloads SET status = 'success', file_path = ?, downloaded_at = ? WHERE url = ?`,
		filePath, time.Now().UTC().Format(time.RFC3339), url)

	return err
}

func (r *DownloadRepository) FailDownload(url, reason string) error {
	_, err := r.db.Exec(`UPDATE downloads SET status = 'failed', reason = ? WHERE url = ?`, reason, url)

	return err
}

func (r *DownloadRepository) DeleteDownload(url string) error {
	_, err := r.db.Exec(`DELETE FROM downloads WHERE url = ?`, url)

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (storage.DownloadRecord, error) {
	var record storage.DownloadRecord

	var filePath, reason, downloadedAt sql.NullString

	if err := row.Scan(&record.URL, &record.Provider, &filePath, &record.Status, &reason, &downloadedAt); err != nil {
		return storage.DownloadRecord{}, err
	}

	record.FilePath = filePath.String
	record.Reason = reason.String

	if downloadedAt.Valid {
		if t, err := time.Parse(time.RFC3339, downloadedAt.String); err == nil {
			record.DownloadedAt = t
		}
	}

	return record, nil
}

func scanRecords(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	var records []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
