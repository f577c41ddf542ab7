package llm

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

// OpenAIProvider works against any OpenAI-compatible chat completions
// endpoint (OpenAI, Azure OpenAI, local vLLM/Ollama /v1).
type OpenAIProvider struct {
	client  *httpx.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4"
	}
	return &OpenAIProvider{
		client:  httpx.New(&http.Client{Timeout: 60 * time.Second}, 2, 4),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, system, user string) (string, error) {
	messages := []map[string]string{}
	if strings.TrimSpace(system) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	payload, err := json.Marshal(map[string]interface{}{"model": p.model, "messages": messages})
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/chat/completions", p.baseURL), bytes.NewReader(payload))
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "call chat api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", domain.Classify(domain.KindRetryable, "chat api", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.Classify(domain.KindRetryable, "decode chat response", err)
	}
	if len(result.Choices) == 0 {
		return "", domain.Classify(domain.KindRetryable, "chat api", fmt.Errorf("no choices in response"))
	}
	return result.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Variants(ctx context.Context, user, system string) ([4]string, error) {
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
