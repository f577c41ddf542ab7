// Package image holds ports.ImageProvider implementations.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgectl/forge3d/internal/adapters/providers/httpx"
	"github.com/forgectl/forge3d/internal/core/domain"
)

// ComfyUIProvider drives a persistent ComfyUI container: submit a workflow,
// then poll /history until the SaveImage node has produced output.
type ComfyUIProvider struct {
	client     *httpx.Client
	host       string
	checkpoint string
}

func NewComfyUIProvider(host string) *ComfyUIProvider {
	return &ComfyUIProvider{
		client:     httpx.New(&http.Client{Timeout: 180 * time.Second}, 1, 2),
		host:       host,
		checkpoint: "v1-5-pruned-emaonly.safetensors",
	}
}

func (p *ComfyUIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	workflow := p.buildWorkflow(prompt)
	body, err := json.Marshal(workflow)
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "marshal comfyui workflow", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/prompt", p.host), bytes.NewReader(body))
	if err != nil {
		return "", domain.Classify(domain.KindFatal, "build comfyui request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Classify(domain.KindRetryable, "call comfyui", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", domain.Classify(domain.KindRetryable, "comfyui prompt submit", fmt.Errorf("status %d: %s", resp.StatusCode, b))
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.Classify(domain.KindRetryable, "decode comfyui submit response", err)
	}
	if result.PromptID == "" {
		return "", domain.Classify(domain.KindRetryable, "comfyui submit", fmt.Errorf("no prompt_id returned"))
	}

	return p.waitAndFetchImage(ctx, result.PromptID)
}

// waitAndFetchImage polls /history until the output node's image is ready.
func (p *ComfyUIProvider) waitAndFetchImage(ctx context.Context, promptID string) (string, error) {
	const maxAttempts = 60
	for i := 0; i < maxAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		url := fmt.Sprintf("%s/history/%s", p.host, promptID)
		resp, err := p.client.Get(ctx, url)
		if err != nil {
			time.Sleep(2 * time.Second)
			continue
		}

		var history map[string]interface{}
		decErr := json.NewDecoder(resp.Body).Decode(&history)
		resp.Body.Close()
		if decErr != nil {
			time.Sleep(2 * time.Second)
			continue
		}

		promptData, ok := history[promptID].(map[string]interface{})
		if !ok {
			time.Sleep(2 * time.Second)
			continue
		}
		outputs, ok := promptData["outputs"].(map[string]interface{})
		if !ok {
			time.Sleep(2 * time.Second)
			continue
		}
		saveImageOutput, ok := outputs["9"].(map[string]interface{})
		if !ok {
			time.Sleep(2 * time.Second)
			continue
		}
		images, ok := saveImageOutput["images"].([]interface{})
		if !ok || len(images) == 0 {
			time.Sleep(2 * time.Second)
			continue
		}
		imageData, ok := images[0].(map[string]interface{})
		if !ok {
			time.Sleep(2 * time.Second)
			continue
		}
		filename, ok := imageData["filename"].(string)
		if !ok {
			time.Sleep(2 * time.Second)
			continue
		}

		return fmt.Sprintf("%s/view?filename=%s&type=output", p.host, filename), nil
	}

	return "", domain.Classify(domain.KindRetryable, "comfyui wait for image", fmt.Errorf("timeout waiting for image generation"))
}

func (p *ComfyUIProvider) buildWorkflow(prompt string) map[string]interface{} {
	return map[string]interface{}{
		"prompt": map[string]interface{}{
			"3": map[string]interface{}{
				"inputs": map[string]interface{}{
					"seed": 42, "steps": 20, "cfg": 7.0,
					"sampler_name": "euler", "scheduler": "normal", "denoise": 1.0,
					"model": []interface{}{"4", 0}, "positive": []interface{}{"6", 0},
					"negative": []interface{}{"7", 0}, "latent_image": []interface{}{"5", 0},
				},
				"class_type": "KSampler",
			},
			"4": map[string]interface{}{
				"inputs":     map[string]interface{}{"ckpt_name": p.checkpoint},
				"class_type": "CheckpointLoaderSimple",
			},
			"5": map[string]interface{}{
				"inputs":     map[string]interface{}{"width": 512, "height": 512, "batch_size": 1},
				"class_type": "EmptyLatentImage",
			},
			"6": map[string]interface{}{
				"inputs":     map[string]interface{}{"text": prompt, "clip": []interface{}{"4", 1}},
				"class_type": "CLIPTextEncode",
			},
			"7": map[string]interface{}{
				"inputs":     map[string]interface{}{"text": "bad quality, blurry, ugly", "clip": []interface{}{"4", 1}},
				"class_type": "CLIPTextEncode",
			},
			"8": map[string]interface{}{
				"inputs":     map[string]interface{}{"samples": []interface{}{"3", 0}, "vae": []interface{}{"4", 2}},
				"class_type": "VAEDecode",
			},
			"9": map[string]interface{}{
				"inputs":     map[string]interface{}{"filename_prefix": "forge3d", "images": []interface{}{"8", 0}},
				"class_type": "SaveImage",
			},
		},
	}
}
