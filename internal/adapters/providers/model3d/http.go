// Package model3d implements ports.Model3DProvider against an external
// image-to-3D API, split into Submit/Poll rather than blocking on
// completion — the model worker pool owns the progress-reporting loop.
package model3d

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgectl/forge3d/internal/adapters/providers/httpx"
	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

type Provider struct {
	client  *httpx.Client
	baseURL string
	apiKey  string
}

func New(baseURL, apiKey string) *Provider {
	return &Provider{
		client:  httpx.New(&http.Client{Timeout: 30 * time.Second}, 1, 2),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (p *Provider) Submit(ctx context.Context, imageURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{"image_url": imageURL})
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "marshal model submit request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/jobs", p.baseURL), bytes.NewReader(payload))
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "build model submit request", err)
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "call model provider submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", domain.Classify(domain.KindRetryable, "model provider submit", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.Classify(domain.KindRetryable, "decode model submit response", err)
	}
	if result.JobID == "" {
		return "", domain.Classify(domain.KindRetryable, "model provider submit", fmt.Errorf("no job_id returned"))
	}
	return result.JobID, nil
}

func (p *Provider) Poll(ctx context.Context, providerJobID string) (ports.ProviderJobStatus, *int, *string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%s", p.baseURL, providerJobID), nil)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "build model poll request", err)
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindRetryable, "call model provider poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", nil, nil, domain.Classify(domain.KindRetryable, "model provider poll", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result struct {
		Status    string `json:"status"`
		Progress  *int   `json:"progress"`
		ResultURL string `json:"result_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, nil, domain.Classify(domain.KindRetryable, "decode model poll response", err)
	}

	status, err := mapStatus(result.Status)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "model provider status", err)
	}

	var resultURL *string
	if result.ResultURL != "" {
		resultURL = &result.ResultURL
	}
	return status, result.Progress, resultURL, nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func mapStatus(raw string) (ports.ProviderJobStatus, error) {
	switch strings.ToLower(raw) {
	case "queued", "running", "processing":
		return ports.ProviderJobRunning, nil
	case "completed", "succeeded", "done":
		return ports.ProviderJobCompleted, nil
	case "failed", "error":
		return ports.ProviderJobFailed, nil
	default:
		return "", fmt.Errorf("unrecognized provider status %q", raw)
	}
}
