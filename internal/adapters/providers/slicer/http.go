// Package slicer implements ports.SlicerProvider. The slicer/printer
// protocol itself is out of core scope (§1); this is a thin HTTP client
// over whatever service fronts it.
package slicer

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
)

type Provider struct {
	client  *httpx.Client
	baseURL string
}

func New(baseURL string) *Provider {
	return &Provider{
		client:  httpx.New(&http.Client{Timeout: 30 * time.Second}, 1, 2),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *Provider) CreateSliceTask(ctx context.Context, objectURL, fileName string) (string, error) {
	payload, err := json.Marshal(map[string]string{"object_url": objectURL, "file_name": fileName})
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "marshal slice task request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/slice-tasks", p.baseURL), bytes.NewReader(payload))
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "build slice task request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "call slicer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", domain.Classify(domain.KindRetryable, "slicer create task", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.Classify(domain.KindRetryable, "decode slicer response", err)
	}
	return result.TaskID, nil
}

func (p *Provider) GetSliceTaskStatus(ctx context.Context, id string) (domain.PrintStatus, *int, *string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/slice-tasks/%s", p.baseURL, id), nil)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "build slice status request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindRetryable, "call slicer status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", nil, nil, domain.Classify(domain.KindRetryable, "slicer status", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result struct {
		Status   string `json:"status"`
		Progress *int   `json:"progress"`
		GcodeURL string `json:"gcode_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, nil, domain.Classify(domain.KindRetryable, "decode slicer status response", err)
	}

	status, err := mapStatus(result.Status)
	if err != nil {
		return "", nil, nil, domain.Classify(domain.KindFatal, "slicer status", err)
	}

	var gcodeURL *string
	if result.GcodeURL != "" {
		gcodeURL = &result.GcodeURL
	}
	return status, result.Progress, gcodeURL, nil
}

func mapStatus(raw string) (domain.PrintStatus, error) {
	switch strings.ToLower(raw) {
	case "not_started":
		return domain.PrintStatusNotStarted, nil
	case "slicing":
		return domain.PrintStatusSlicing, nil
	case "slice_complete":
		return domain.PrintStatusSliceComplete, nil
	case "printing":
		return domain.PrintStatusPrinting, nil
	case "print_complete":
		return domain.PrintStatusPrintComplete, nil
	case "failed":
		return domain.PrintStatusFailed, nil
	default:
		return "", fmt.Errorf("unrecognized slicer status %q", raw)
	}
}
