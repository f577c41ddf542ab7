package image

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

// OpenAIProvider calls an OpenAI-compatible image generation endpoint:
// POST {baseURL}/images/generations -> {"data":[{"url": "..."}]}.
type OpenAIProvider struct {
	client  *httpx.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAIProvider{
		client:  httpx.New(&http.Client{Timeout: 120 * time.Second}, 0.5, 1),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model": p.model, "prompt": prompt, "size": "1024x1024",
	})
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "marshal image request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/images/generations", p.baseURL), bytes.NewReader(payload))
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "build image request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "call image api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", domain.Classify(domain.KindRetryable, "image api", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.Classify(domain.KindRetryable, "decode image api response", err)
	}
	if len(result.Data) == 0 || strings.TrimSpace(result.Data[0].URL) == "" {
		return "", domain.Classify(domain.KindRetryable, "image api", fmt.Errorf("no image url returned"))
	}

	return result.Data[0].URL, nil
}
