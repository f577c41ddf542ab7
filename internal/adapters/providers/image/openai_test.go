package image

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Generate_ReturnsImageURLAndSendsAuthHeader(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://cdn.example/out.png"}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "")

	url, err := p.Generate(context.Background(), "a castle")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/out.png", url)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-image-1", gotModel)
}

func TestOpenAIProvider_Generate_FailsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "")

	_, err := p.Generate(context.Background(), "a castle")
	require.Error(t, err)
}

func TestOpenAIProvider_Generate_FailsWhenDataEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "")

	_, err := p.Generate(context.Background(), "a castle")
	require.Error(t, err)
}
