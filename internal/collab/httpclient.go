package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tro-protocol/coordinator/pkg/logger"
)

// ClientConfig holds shared HTTP collaborator configuration.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
}

// httpClient is the shared POST-JSON transport for the scoring, proof, and
// reasoning services. Retries use capped exponential backoff; a non-2xx
// status on the final attempt surfaces as an error.
type httpClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	log        *logger.Logger
}

func newHTTPClient(cfg ClientConfig, log *logger.Logger) *httpClient {
	cfg.applyDefaults()
	return &httpClient{
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		log:        log,
	}
}

func (c *httpClient) postJSON(ctx context.Context, path string, reqBody, response interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			c.log.Debug("retrying collaborator request", "path", path, "attempt", attempt+1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("collaborator request failed", "path", path, "attempt", attempt+1, "error", err.Error())
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("collaborator returned %d: %s", resp.StatusCode, body)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("collaborator returned %d: %s", resp.StatusCode, body)
		}

		if response != nil {
			if err := json.Unmarshal(body, response); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("request to %s failed after %d attempts: %w", path, c.maxRetries, lastErr)
}
