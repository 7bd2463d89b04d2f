package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const submitTimeout = 60 * time.Second

// HTTPProvider talks to a generation provider over its REST API.
// POST {base}/v1/jobs submits; GET {base}/v1/jobs/{taskId} polls.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: submitTimeout},
	}
}

var _ Provider = (*HTTPProvider)(nil)

// submitResponse is the provider's answer to a job submission: inline
// images for synchronous completions, a task id for queued work.
type submitResponse struct {
	Images []string `json:"images,omitempty"`
	TaskID string   `json:"task_id,omitempty"`
}

type statusResponse struct {
	State    string   `json:"state"`
	Images   []string `json:"images,omitempty"`
	Error    string   `json:"error,omitempty"`
	Progress float64  `json:"progress,omitempty"`
}

func (p *HTTPProvider) Submit(ctx context.Context, spec JobSpec) (*SubmitResult, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal job spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "invalid JSON in submit response"}
	}
	if sr.TaskID == "" && len(sr.Images) == 0 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "submit response carried neither images nor task_id"}
	}
	return &SubmitResult{Images: sr.Images, ExternalTaskID: sr.TaskID}, nil
}

func (p *HTTPProvider) Poll(ctx context.Context, externalTaskID string) (*JobStatus, error) {
	u := p.baseURL + "/v1/jobs/" + url.PathEscape(externalTaskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "invalid JSON in status response"}
	}

	state, _ := NormalizeState(st.State)
	return &JobStatus{
		State:        state,
		Images:       st.Images,
		ErrorMessage: st.Error,
		Progress:     st.Progress,
	}, nil
}

// readErrorBody extracts a short provider message from an error response.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil || len(b) == 0 {
		return "no response body"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return string(b)
}
