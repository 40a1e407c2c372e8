// Package provider normalizes the heterogeneous upstream generation
// provider's status vocabulary and error shapes into the closed set this
// backend's polling state machine understands.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/neurobridge/genjobs/internal/pkg/httpx"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

// Status is the normalized job-set status the rest of the system reasons
// about; an unrecognized upstream status is folded into StatusQueued rather
// than treated as an error.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Error is the typed error carried across the provider-adapter boundary. It
// mirrors the taxonomy in the data model: each upstream failure mode maps to
// exactly one Code, and Retryable tells the poller whether to requeue.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) HTTPStatusCode() int {
	// Only used by httpx.IsRetryableError's duck typing; provider errors carry
	// their own Retryable flag instead.
	return 0
}

const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeProviderServerError = "PROVIDER_SERVER_ERROR"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeNetworkError        = "NETWORK_ERROR"
	CodeInvalidResponse     = "INVALID_RESPONSE"
)

// StartRequest is what the adapter needs to kick off a generation: the model
// and fully-resolved parameters from the chosen Option.
type StartRequest struct {
	Model      string
	Style      string
	Prompt     string
	Parameters map[string]any
}

// Result is one normalized generation output: a still-image or video asset
// at two resolutions, the cheap "min" preview and the full-quality "raw".
type Result struct {
	Type   string `json:"type"`
	MinURL string `json:"min_url"`
	RawURL string `json:"raw_url"`
}

// JobSet is the normalized view of the provider's job-set resource, after
// defensive field-aliasing (see normalizeJobSet).
type JobSet struct {
	ID      string
	Status  Status
	Results []Result
	Error   *Error
}

type Adapter interface {
	StartGeneration(ctx context.Context, req StartRequest) (jobSetID string, err error)
	GetJobSet(ctx context.Context, jobSetID string) (JobSet, error)
}

// Config carries the two-credential scheme the upstream provider requires:
// an API key plus a shared secret, both sent as headers.
type Config struct {
	BaseURL string
	APIKey  string
	Secret  string
	Timeout time.Duration
}

type httpAdapter struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Adapter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider: missing base url")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("provider: missing credentials")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		return nil, fmt.Errorf("provider: logger required")
	}
	return &httpAdapter{
		log:  log.With("service", "ProviderAdapter"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type startGenerationResponse struct {
	JobSetID string `json:"job_set_id"`
	ID       string `json:"id"`
}

func (a *httpAdapter) StartGeneration(ctx context.Context, req StartRequest) (string, error) {
	body := map[string]any{
		"model":  req.Model,
		"style":  req.Style,
		"prompt": req.Prompt,
	}
	for k, v := range req.Parameters {
		body[k] = v
	}

	var out startGenerationResponse
	if err := a.do(ctx, http.MethodPost, "/v1/job-sets", body, &out); err != nil {
		return "", err
	}
	id := strings.TrimSpace(out.JobSetID)
	if id == "" {
		id = strings.TrimSpace(out.ID)
	}
	if id == "" {
		return "", &Error{Code: CodeInvalidResponse, Message: "start generation: missing job set id", Retryable: false}
	}
	return id, nil
}

// rawJobSet is deliberately permissive about field naming: different upstream
// revisions have shipped min_url/thumbnail_url/url and results/outputs for
// the same concept.
type rawJobSet struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Results []rawResult `json:"results"`
	Outputs []rawResult `json:"outputs"`
}

type rawResult struct {
	Type         string `json:"type"`
	MinURL       string `json:"min_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	RawURL       string `json:"raw_url"`
	URL          string `json:"url"`
}

func (a *httpAdapter) GetJobSet(ctx context.Context, jobSetID string) (JobSet, error) {
	var raw rawJobSet
	if err := a.do(ctx, http.MethodGet, "/v1/job-sets/"+jobSetID, nil, &raw); err != nil {
		return JobSet{}, err
	}
	return normalizeJobSet(raw), nil
}

func normalizeJobSet(raw rawJobSet) JobSet {
	out := JobSet{ID: raw.ID, Status: normalizeStatus(raw.Status)}

	results := raw.Results
	if len(results) == 0 {
		results = raw.Outputs
	}
	for _, r := range results {
		resultType := r.Type
		if resultType == "" {
			resultType = "image"
		}
		minURL := firstNonEmpty(r.MinURL, r.ThumbnailURL, r.URL)
		rawURL := firstNonEmpty(r.RawURL, r.URL)
		if minURL == "" && rawURL == "" {
			continue
		}
		out.Results = append(out.Results, Result{Type: resultType, MinURL: minURL, RawURL: rawURL})
	}

	if out.Status == StatusFailed {
		msg := "provider reported failure"
		if raw.Error != nil && strings.TrimSpace(raw.Error.Message) != "" {
			msg = raw.Error.Message
		}
		out.Error = &Error{Code: CodeProviderServerError, Message: msg, Retryable: false}
	}
	return out
}

func normalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return StatusQueued
	case "processing", "running", "in_progress":
		return StatusProcessing
	case "completed", "succeeded", "success":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	default:
		return StatusQueued
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (a *httpAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &Error{Code: CodeInvalidParams, Message: err.Error(), Retryable: false}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, &buf)
	if err != nil {
		return &Error{Code: CodeNetworkError, Message: err.Error(), Retryable: true}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("hf-api-key", a.cfg.APIKey)
	req.Header.Set("hf-secret", a.cfg.Secret)

	resp, err := a.http.Do(req)
	if err != nil {
		return &Error{Code: CodeNetworkError, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &Error{Code: CodeNetworkError, Message: readErr.Error(), Retryable: true}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &Error{Code: CodeRateLimited, Message: string(raw), Retryable: true}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &Error{Code: CodeJobNotFound, Message: string(raw), Retryable: false}
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return &Error{Code: CodeInvalidParams, Message: string(raw), Retryable: false}
	}
	if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
		return &Error{Code: CodeProviderServerError, Message: string(raw), Retryable: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Code: CodeProviderServerError, Message: string(raw), Retryable: false}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Code: CodeInvalidResponse, Message: err.Error(), Retryable: false}
	}
	return nil
}
