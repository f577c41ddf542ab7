package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgectl/forge3d/internal/adapters/providers/image"
	"github.com/forgectl/forge3d/internal/adapters/providers/llm"
	"github.com/forgectl/forge3d/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{Model3DProviderURL: "https://model3d.example"}
}

func TestBuild_DefaultsToLocalComfyUIAndOllama(t *testing.T) {
	p, err := Build(baseConfig())
	require.NoError(t, err)
	assert.IsType(t, &image.ComfyUIProvider{}, p.Image)
	assert.IsType(t, &llm.OllamaProvider{}, p.LLM)
	assert.Nil(t, p.Slicer)
}

func TestBuild_RequiresModel3DURL(t *testing.T) {
	_, err := Build(&config.Config{})
	require.Error(t, err)
}

func TestBuild_SwitchesToRemoteOpenAIImageProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.ImageProviderMode = "remote"
	cfg.ImageProviderURL = "https://images.example"

	p, err := Build(cfg)
	require.NoError(t, err)
	assert.IsType(t, &image.OpenAIProvider{}, p.Image)
}

func TestBuild_RemoteImageProviderRequiresURL(t *testing.T) {
	cfg := baseConfig()
	cfg.ImageProviderMode = "remote"

	_, err := Build(cfg)
	require.Error(t, err)
}

func TestBuild_RejectsUnsupportedLLMMode(t *testing.T) {
	cfg := baseConfig()
	cfg.LLMProviderMode = "carrier-pigeon"

	_, err := Build(cfg)
	require.Error(t, err)
}

func TestBuild_WiresSlicerWhenURLConfigured(t *testing.T) {
	cfg := baseConfig()
	cfg.SlicerProviderURL = "https://slicer.example"

	p, err := Build(cfg)
	require.NoError(t, err)
	assert.NotNil(t, p.Slicer)
}
