package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oceanscan/geofetch/internal/download"
	"github.com/oceanscan/geofetch/internal/logctx"
	"github.com/oceanscan/geofetch/internal/storage"
)

// DownloadRequest is one dataset the caller wants fetched.
type DownloadRequest struct {
	URL        string `json:"url"`
	TargetDir  string `json:"target_dir,omitempty"`
	FilePrefix string `json:"file_prefix,omitempty"`
}

// BatchRequest is the POST /downloads payload.
type BatchRequest struct {
	Requests []DownloadRequest `json:"requests"`
}

// BatchAccepted is the POST /downloads response.
type BatchAccepted struct {
	BatchID  string `json:"batch_id"`
	Accepted int    `json:"accepted"`
}

// DownloadStatus is one tracked download in the GET /downloads response.
type DownloadStatus struct {
	URL          string     `json:"url"`
	Provider     string     `json:"provider,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	Status       string     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}

// Batch is a set of download requests queued together.
type Batch struct {
	ID       string
	Requests []download.Request
}

// DownloadsHandler accepts dataset download requests over HTTP and serves the
// status of tracked downloads. Accepted batches go onto a bounded queue; a
// full queue answers 503 instead of blocking the client.
type DownloadsHandler struct {
	username string
	password string
	queue    chan<- Batch
	repo     storage.DownloadReadRepository
}

// NewDownloadsHandler creates a new downloads handler. Basic auth is enforced
// only when username is non-empty.
func NewDownloadsHandler(username, password string, queue chan<- Batch, repo storage.DownloadReadRepository) *DownloadsHandler {
	return &DownloadsHandler{
		username: username,
		password: password,
		queue:    queue,
		repo:     repo,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/downloads", h.HandleSubmit)
	r.Get("/downloads", h.HandleList)

	return r
}

// HandleSubmit queues a batch of download requests.
func (h *DownloadsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(r.Context(), "failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(req.Requests) == 0 {
		http.Error(w, "requests must not be empty", http.StatusBadRequest)

		return
	}

	batch := Batch{
		ID:       uuid.New().String(),
		Requests: make([]download.Request, len(req.Requests)),
	}

	for i, dr := range req.Requests {
		if dr.URL == "" {
			http.Error(w, "every request needs a url", http.StatusBadRequest)

			return
		}

		batch.Requests[i] = download.Request{
			URL:        dr.URL,
			TargetDir:  dr.TargetDir,
			FilePrefix: dr.FilePrefix,
		}
	}

	select {
	case h.queue <- batch:
	default:
		logger.WarnContext(r.Context(), "download queue is full, rejecting batch", "batch_size", len(batch.Requests))
		http.Error(w, "download queue is full", http.StatusServiceUnavailable)

		return
	}

	logger.InfoContext(r.Context(), "batch queued", "batch_id", batch.ID, "batch_size", len(batch.Requests))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(BatchAccepted{BatchID: batch.ID, Accepted: len(batch.Requests)}); err != nil {
		logger.ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}

// HandleList serves the status of all tracked downloads.
func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.repo.GetDownloads()
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)

		return
	}

	statuses := make([]DownloadStatus, len(records))

	for i, rec := range records {
		statuses[i] = DownloadStatus{
			URL:      rec.URL,
			Provider: rec.Provider,
			FilePath: rec.FilePath,
			Status:   rec.Status,
			Reason:   rec.Reason,
		}

		if !rec.DownloadedAt.IsZero() {
			t := rec.DownloadedAt
			statuses[i].DownloadedAt = &t
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(map[string]any{"downloads": statuses}); err != nil {
		logger.ErrorContext(r.Context(), "failed to encode response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
