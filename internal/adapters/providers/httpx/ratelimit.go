// Package httpx gives every outbound provider adapter (image, 3D model,
// LLM, slicer) the same rate-limited HTTP client, so a misbehaving
// external provider can never be hammered by a retrying worker pool.
package httpx

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"
)

// Client wraps an *http.Client with a token-bucket limiter applied
// before every request leaves the process.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

func New(httpClient *http.Client, rps float64, burst int) *Client {
	return &Client{http: httpClient, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
