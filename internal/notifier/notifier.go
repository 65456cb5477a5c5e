// Package notifier implements the outbound, fire-and-forget call to the
// metadata service that runs after an upload session completes.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/tonimelisma/uploadsrv/internal/session"
)

// Backoff parameters for the bounded retry loop. Deliberately small: a
// fire-and-forget notification doesn't warrant minutes of retrying.
const (
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

const defaultVisibility = "private"

// payload is the JSON body posted to the metadata service.
type payload struct {
	Filename    string   `json:"filename"`
	FilePath    string   `json:"file_path"`
	Description string   `json:"description,omitempty"`
	Visibility  string   `json:"visibility"`
	Tags        []string `json:"tags,omitempty"`
}

// FailureRecorder receives one call per notification that exhausted its
// retries without success. Optional: a nil recorder just skips the count.
type FailureRecorder interface {
	NotifyFailure()
}

// Notifier posts a completion record to the metadata service's HTTP
// endpoint, retrying transient failures a bounded number of times before
// giving up and logging. It satisfies session.Notifier.
type Notifier struct {
	url        string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
	onFailure  FailureRecorder
}

// New returns a Notifier posting to url with the given timeout applied per
// attempt and maxRetries additional attempts after the first failure.
// onFailure may be nil.
func New(url string, timeout time.Duration, maxRetries int, onFailure FailureRecorder, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
		onFailure:  onFailure,
	}
}

// NotifyCompletion implements session.Notifier. It runs synchronously with
// respect to its own retries but is always invoked by the Session Manager
// in its own goroutine so the calling connection handler never blocks on
// it (see Manager.completeLocked in internal/session).
func (n *Notifier) NotifyCompletion(rec *session.Record, filePath string) {
	if n.url == "" {
		n.logger.Warn("notifier has no URL configured, skipping completion notice",
			slog.String("upload_id", rec.UploadID))

		return
	}

	visibility := rec.Metadata.Visibility
	if visibility == "" {
		visibility = defaultVisibility
	}

	body, err := json.Marshal(payload{
		Filename:    rec.Metadata.Filename,
		FilePath:    filePath,
		Description: rec.Metadata.Description,
		Visibility:  visibility,
		Tags:        rec.Metadata.Tags,
	})
	if err != nil {
		n.logger.Error("failed to marshal notification payload",
			slog.String("upload_id", rec.UploadID), slog.String("error", err.Error()))

		return
	}

	ctx := context.Background()

	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calcBackoff(attempt - 1)

			n.logger.Debug("retrying completion notification",
				slog.String("upload_id", rec.UploadID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))

			time.Sleep(backoff)
		}

		if n.attempt(ctx, rec, body) {
			n.logger.Info("completion notification sent",
				slog.String("upload_id", rec.UploadID), slog.String("file_path", filePath))

			return
		}
	}

	n.logger.Error("completion notification failed after retries, file is orphaned",
		slog.String("upload_id", rec.UploadID), slog.String("file_path", filePath),
		slog.Int("attempts", n.maxRetries+1))

	if n.onFailure != nil {
		n.onFailure.NotifyFailure()
	}
}

// attempt makes one POST. Returns true on success (HTTP 201).
func (n *Notifier) attempt(ctx context.Context, rec *session.Record, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build notification request",
			slog.String("upload_id", rec.UploadID), slog.String("error", err.Error()))

		return false
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", rec.Metadata.Token))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("completion notification request failed",
			slog.String("upload_id", rec.UploadID), slog.String("error", err.Error()))

		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		n.logger.Warn("completion notification rejected",
			slog.String("upload_id", rec.UploadID), slog.Int("status", resp.StatusCode))

		return false
	}

	return true
}

// calcBackoff computes exponential backoff with jitter for retry attempt
// (0-indexed), grounded in the same formula used for the metadata service's
// own foreground retry loop.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}
