package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxlabs/lenscore/logger"
)

const (
	defaultBaseURL = "https://snap3d.snapar.com/v1"
	// Default timeout for a single HTTP round trip, not the whole job
	defaultHTTPTimeout = 30 * time.Second
	// Status poll cadence while a job is running
	defaultPollInterval = 2 * time.Second
)

// HTTPService is a Service backed by a staged text-to-3D HTTP API. A
// submission creates a job; the job is then polled until every stage artifact
// has been reported.
type HTTPService struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

// submitResponse is the job creation reply.
type submitResponse struct {
	JobID string `json:"job_id"`
}

// jobStatus is one poll reply. Artifacts appear cumulatively as stages
// complete; Error is set only when State is "failed".
type jobStatus struct {
	State       string `json:"state"`
	ImageB64    string `json:"image,omitempty"`
	BaseMeshB64 string `json:"base_mesh,omitempty"`
	MeshB64     string `json:"refined_mesh,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewHTTPService creates a client for the generation backend.
func NewHTTPService(baseURL, apiKey string) *HTTPService {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPService{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: defaultHTTPTimeout},
		PollInterval: defaultPollInterval,
	}
}

// Submit creates a job and returns a channel of stage events. The channel
// delivers image, base_mesh, and refined_mesh in order (or failed), then
// closes.
func (s *HTTPService) Submit(ctx context.Context, req Request) (<-chan StageEvent, error) {
	jobID, err := s.createJob(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.Debug("generation job created", "job_id", jobID)

	out := make(chan StageEvent, 4)
	go s.pollJob(ctx, jobID, out)
	return out, nil
}

func (s *HTTPService) createJob(ctx context.Context, req Request) (string, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := s.BaseURL + "/jobs"
	logger.Debug("🔵 API Request", "service", "snap3d", "method", "POST", "url", url)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", s.APIKey)

	resp, err := s.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	logger.Debug("🟢 API Response", "service", "snap3d", "status_code", resp.StatusCode)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var sr submitResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if sr.JobID == "" {
		return "", fmt.Errorf("response missing job_id")
	}
	return sr.JobID, nil
}

// pollJob polls the job status and converts newly available artifacts into
// ordered stage events. The output channel is closed when the job ends or
// the context is cancelled.
func (s *HTTPService) pollJob(ctx context.Context, jobID string, out chan<- StageEvent) {
	defer close(out)

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	sent := map[Stage]bool{}
	emit := func(stage Stage, b64 string) bool {
		if sent[stage] || b64 == "" {
			return true
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			out <- StageEvent{Stage: StageFailed,
				Err: fmt.Errorf("invalid %s payload: %w", stage, err)}
			return false
		}
		sent[stage] = true
		out <- StageEvent{Stage: stage, Data: data}
		return true
	}

	for {
		status, err := s.getStatus(ctx, jobID)
		if err != nil {
			out <- StageEvent{Stage: StageFailed, Err: err}
			return
		}

		// Artifacts are cumulative and always emitted in pipeline order.
		if !emit(StageImage, status.ImageB64) ||
			!emit(StageBaseMesh, status.BaseMeshB64) ||
			!emit(StageRefinedMesh, status.MeshB64) {
			return
		}

		switch status.State {
		case "failed":
			out <- StageEvent{Stage: StageFailed,
				Err: fmt.Errorf("job %s failed: %s", jobID, status.Error)}
			return
		case "done":
			if !sent[StageRefinedMesh] {
				out <- StageEvent{Stage: StageFailed,
					Err: fmt.Errorf("job %s finished without a refined mesh", jobID)}
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *HTTPService) getStatus(ctx context.Context, jobID string) (*jobStatus, error) {
	url := fmt.Sprintf("%s/jobs/%s", s.BaseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", s.APIKey)

	resp, err := s.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var status jobStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &status, nil
}
