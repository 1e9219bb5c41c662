// Package suggest calls the external text-analysis service that proposes
// tags and a description for an uploaded file. It is strictly out-of-band:
// a failure here never touches session state.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable covers any failure of the suggestion service — network,
// non-200, bad payload. Callers show "suggestions unavailable" and move on.
var ErrUnavailable = errors.New("suggestion service unavailable")

type Suggestion struct {
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

type request struct {
	FileName    string `json:"file_name"`
	FileContent string `json:"file_content"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets the service's base URL. An empty URL yields a disabled
// client whose Suggest always reports ErrUnavailable.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// The service runs an LLM; give it more room than a normal API
		// call, but still bounded so an editor action can't hang forever.
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

func (c *Client) Suggest(ctx context.Context, fileName, fileContent string) (*Suggestion, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: not configured", ErrUnavailable)
	}

	payload, err := json.Marshal(request{FileName: fileName, FileContent: fileContent})
	if err != nil {
		return nil, fmt.Errorf("marshal suggest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/suggest", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build suggest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out Suggestion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return &out, nil
}
