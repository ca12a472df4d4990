// Package codeexplore queries the code-exploration collaborator for
// implementation pointers matching a story topic.
package codeexplore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/storymill/storymill/pkg/models"
)

// Sentinel errors for code-exploration failures.
var (
	ErrExplorerUnreachable = errors.New("code explorer unreachable")
	ErrExplorerQueryError  = errors.New("code explorer query error")
	ErrExplorerTimeout     = errors.New("code explorer timeout")
)

// HTTPClient queries the code-exploration service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new code-exploration client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type exploreResponse struct {
	Data struct {
		Refs []models.CodeRef `json:"refs"`
	} `json:"data"`
}

// Explore returns zero or more (file_path, note) pairs for a topic. An empty
// result is a valid answer, not an error.
func (c *HTTPClient) Explore(ctx context.Context, topic string) ([]models.CodeRef, error) {
	params := url.Values{"topic": {topic}}
	u := fmt.Sprintf("%s/api/v1/explore?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrExplorerTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExplorerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrExplorerQueryError, resp.StatusCode)
	}

	var expResp exploreResponse
	if err := json.NewDecoder(resp.Body).Decode(&expResp); err != nil {
		return nil, fmt.Errorf("decoding explore response: %w", err)
	}
	return expResp.Data.Refs, nil
}
