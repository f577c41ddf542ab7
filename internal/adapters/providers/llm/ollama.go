// Package llm implements ports.LLMProvider, used only by createRequest's
// optional prompt pre-processing and variant-generation side-task (§4.8).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/forgectl/forge3d/internal/adapters/providers/httpx"
	"github.com/forgectl/forge3d/internal/core/domain"
)

type OllamaProvider struct {
	client  *httpx.Client
	baseURL string
	model   string
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	baseURL = normalizeBaseURL(baseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:latest"
	}
	return &OllamaProvider{
		client:  httpx.New(&http.Client{Timeout: 60 * time.Second}, 2, 4),
		baseURL: baseURL,
		model:   model,
	}
}

func (p *OllamaProvider) Chat(ctx context.Context, system, user string) (string, error) {
	prompt := user
	if strings.TrimSpace(system) != "" {
		prompt = system + "\n\n" + user
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model": p.model, "prompt": prompt, "stream": false,
	})
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "marshal ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "call ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.Classify(domain.KindRetryable, "ollama chat", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.Classify(domain.KindRetryable, "decode ollama response", err)
	}
	return result.Response, nil
}

// Variants asks for four independent phrasings in one call and splits the
// response on blank lines, filling any missing or empty slot with the
// original user input when the model doesn't cooperate.
func (p *OllamaProvider) Variants(ctx context.Context, user, system string) ([4]string, error) {
	var out [4]string
	instruction := "Produce exactly 4 distinct one-paragraph image prompt variations for the following idea, separated by a blank line, no numbering:\n\n" + user
	text, err := p.Chat(ctx, system, instruction)
	if err != nil {
		return out, err
	}

	parts := strings.Split(strings.TrimSpace(text), "\n\n")
	for i := range out {
		if i < len(parts) && strings.TrimSpace(parts[i]) != "" {
			out[i] = strings.TrimSpace(parts[i])
		} else {
			out[i] = user
		}
	}
	return out, nil
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return strings.TrimSuffix(trimmed, "/v1")
}
