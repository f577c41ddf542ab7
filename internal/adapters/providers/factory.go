// Package providers selects concrete provider adapters from configuration,
// hiding local/remote mode selection from the orchestrator and worker pools.
package providers

import (
	"fmt"
	"strings"

	"github.com/forgectl/forge3d/internal/adapters/providers/image"
	"github.com/forgectl/forge3d/internal/adapters/providers/llm"
	"github.com/forgectl/forge3d/internal/adapters/providers/model3d"
	"github.com/forgectl/forge3d/internal/adapters/providers/slicer"
	"github.com/forgectl/forge3d/internal/config"
	"github.com/forgectl/forge3d/internal/core/ports"
)

// Providers bundles every external-provider port the services layer needs.
type Providers struct {
	Image   ports.ImageProvider
	Model3D ports.Model3DProvider
	LLM     ports.LLMProvider
	Slicer  ports.SlicerProvider
}

// Build wires concrete adapters from cfg. Model3D and the slicer have no
// local mode — they always call out to an external service.
func Build(cfg *config.Config) (*Providers, error) {
	imageProvider, err := buildImageProvider(cfg)
	if err != nil {
		return nil, err
	}

	llmProvider, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Model3DProviderURL) == "" {
		return nil, fmt.Errorf("model3d remote_url is required")
	}
	model3dProvider := model3d.New(cfg.Model3DProviderURL, cfg.Model3DProviderKey)

	var slicerProvider ports.SlicerProvider
	if strings.TrimSpace(cfg.SlicerProviderURL) != "" {
		slicerProvider = slicer.New(cfg.SlicerProviderURL)
	}

	return &Providers{
		Image:   imageProvider,
		Model3D: model3dProvider,
		LLM:     llmProvider,
		Slicer:  slicerProvider,
	}, nil
}

func buildLLMProvider(cfg *config.Config) (ports.LLMProvider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.LLMProviderMode))
	switch mode {
	case "", "local":
		return llm.NewOllamaProvider(cfg.LLMProviderURL, cfg.LLMModel), nil
	case "remote":
		if strings.TrimSpace(cfg.LLMProviderURL) == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		return llm.NewOpenAIProvider(cfg.LLMProviderURL, cfg.LLMProviderKey, cfg.LLMModel), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", cfg.LLMProviderMode)
	}
}

func buildImageProvider(cfg *config.Config) (ports.ImageProvider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ImageProviderMode))
	switch mode {
	case "", "local":
		host := cfg.ImageProviderURL
		if host == "" {
			host = "http://localhost:8188"
		}
		return image.NewComfyUIProvider(host), nil
	case "remote":
		if strings.TrimSpace(cfg.ImageProviderURL) == "" {
			return nil, fmt.Errorf("image remote_url is required when mode=remote")
		}
		return image.NewOpenAIProvider(cfg.ImageProviderURL, cfg.ImageProviderKey, ""), nil
	default:
		return nil, fmt.Errorf("unsupported image provider mode: %s", cfg.ImageProviderMode)
	}
}
