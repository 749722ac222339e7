package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanscan/geofetch/internal/cleanup"
	"github.com/oceanscan/geofetch/internal/storage"
)

type stubRepository struct {
	expired []storage.DownloadRecord
	deleted []string
}

func (s *stubRepository) GetExpiredDownloads(time.Duration) ([]storage.DownloadRecord, error) {
	return s.expired, nil
}

func (s *stubRepository) DeleteDownload(url string) error {
	s.deleted = append(s.deleted, url)

	return nil
}

func TestDeleteExpiredDownloads(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "old.nc")
	require.NoError(t, os.WriteFile(existing, []byte("data"), 0o644))

	repo := &stubRepository{
		expired: []storage.DownloadRecord{
			{URL: "https://hub.example.com/old.nc", FilePath: existing},
			{URL: "https://hub.example.com/gone.nc", FilePath: filepath.Join(dir, "gone.nc")},
		},
	}

	err := cleanup.DeleteExpiredDownloads(context.Background(), repo, 24*time.Hour)
	require.NoError(t, err)

	_, statErr := os.Stat(existing)
	assert.True(t, os.IsNotExist(statErr))

	// A record whose file is already gone is still dropped.
	assert.Equal(t, []string{
		"https://hub.example.com/old.nc",
		"https://hub.example.com/gone.nc",
	}, repo.deleted)
}
