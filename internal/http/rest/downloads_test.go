package rest_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanscan/geofetch/internal/http/rest"
	"github.com/oceanscan/geofetch/internal/storage"
)

type stubReadRepository struct {
	records []storage.DownloadRecord
	err     error
}

func (s *stubReadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	return s.records, s.err
}

func (s *stubReadRepository) GetDownload(string) (*storage.DownloadRecord, error) {
	return nil, nil
}

func (s *stubReadRepository) GetExpiredDownloads(time.Duration) ([]storage.DownloadRecord, error) {
	return nil, nil
}

func TestHandleSubmit(t *testing.T) {
	queue := make(chan rest.Batch, 1)
	handler := rest.NewDownloadsHandler("", "", queue, &stubReadRepository{})

	body := `{"requests":[{"url":"https://hub.example.com/a.nc"},{"url":"https://hub.example.com/b.nc","file_prefix":"job42"}]}`
	req := httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "batch_id")

	select {
	case batch := <-queue:
		require.Len(t, batch.Requests, 2)
		assert.Equal(t, "https://hub.example.com/a.nc", batch.Requests[0].URL)
		assert.Equal(t, "job42", batch.Requests[1].FilePrefix)
		assert.NotEmpty(t, batch.ID)
	default:
		t.Fatal("expected a batch on the queue")
	}
}

func TestHandleSubmit_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"empty requests", `{"requests":[]}`},
		{"missing url", `{"requests":[{"file_prefix":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := make(chan rest.Batch, 1)
			handler := rest.NewDownloadsHandler("", "", queue, &stubReadRepository{})

			req := httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.Routes().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, queue)
		})
	}
}

func TestHandleSubmit_QueueFull(t *testing.T) {
	queue := make(chan rest.Batch, 1)
	queue <- rest.Batch{ID: "occupying"}

	handler := rest.NewDownloadsHandler("", "", queue, &stubReadRepository{})

	body := `{"requests":[{"url":"https://hub.example.com/a.nc"}]}`
	req := httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleList(t *testing.T) {
	repo := &stubReadRepository{
		records: []storage.DownloadRecord{
			{
				URL:          "https://hub.example.com/a.nc",
				Provider:     "https://hub.example.com",
				FilePath:     "/data/a.nc",
				Status:       "success",
				DownloadedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
			},
			{
				URL:    "https://hub.example.com/b.nc",
				Status: "failed",
				Reason: "gave up after 5 attempts",
			},
		},
	}

	handler := rest.NewDownloadsHandler("", "", make(chan rest.Batch, 1), repo)

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://hub.example.com/a.nc")
	assert.Contains(t, rec.Body.String(), "gave up after 5 attempts")
}

func TestBasicAuth(t *testing.T) {
	handler := rest.NewDownloadsHandler("admin", "pw", make(chan rest.Batch, 1), &stubReadRepository{})

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
