// Package mcp exposes key verification and theme entitlements to MCP
// clients. The server talks to a running keygate instance over HTTP using
// the API key from the environment, so it can be pointed at any
// deployment.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/framingui/keygate/internal/model"
)

// ErrUnauthorized is returned when the configured API key is rejected.
var ErrUnauthorized = errors.New("api key rejected")

// ErrThrottled is returned when the verification endpoint rate-limits the
// key. RetryAfter on the wrapped result says when to try again.
type ThrottledError struct {
	RetryAfter int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfter)
}

// VerifyClient calls the verification endpoint of a keygate deployment.
type VerifyClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewVerifyClient builds a client for the deployment at baseURL.
func NewVerifyClient(baseURL, apiKey string) *VerifyClient {
	return &VerifyClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify checks the configured key and returns the holder's identity and
// entitlements.
func (c *VerifyClient) Verify(ctx context.Context) (*model.VerifySuccess, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/mcp/verify", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling verify endpoint: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out model.VerifySuccess
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding verify response: %w", err)
		}
		if !out.Valid {
			return nil, ErrUnauthorized
		}
		return &out, nil

	case http.StatusUnauthorized:
		var fail model.VerifyFailure
		if err := json.NewDecoder(resp.Body).Decode(&fail); err == nil && fail.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, fail.Message)
		}
		return nil, ErrUnauthorized

	case http.StatusTooManyRequests:
		retry := 1
		if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
			retry = v
		}
		return nil, &ThrottledError{RetryAfter: retry}

	default:
		return nil, fmt.Errorf("verify endpoint returned %d", resp.StatusCode)
	}
}
