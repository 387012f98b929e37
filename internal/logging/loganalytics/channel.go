package loganalytics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// UploadChannel serializes access to the one outbound HTTP client shared by
// every sink in the process. The per-request authentication headers depend on
// the body being sent, so two uploads must never overlap: the mutex guards
// the whole build-and-send section.
type UploadChannel struct {
	httpClient *http.Client
	mu         sync.Mutex
}

func NewUploadChannel() *UploadChannel {
	return &UploadChannel{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Upload posts one finalized chunk payload. It never returns an error:
// transport failures and non-200 responses are logged and reported as false.
func (uc *UploadChannel) Upload(ctx context.Context, endpoint string, body []byte, authHeader, dateHeader, logType string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build upload request")
		return false
	}

	req.Header.Set("Authorization", authHeader)
	req.Header.Set("x-ms-date", dateHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Log-Type", logType)

	resp, err := uc.httpClient.Do(req)
	if err != nil {
		log.Error().Err(rootCause(err)).Msg("Failed to upload chunk")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.Error().
			Str("status", resp.Status).
			Str("response", string(respBody)).
			Msg("Workspace rejected chunk")
		return false
	}

	return true
}

// rootCause unwraps to the innermost error so the diagnostic names the actual
// network problem rather than the url.Error wrapper.
func rootCause(err error) error {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err
		}
		err = inner
	}
}
