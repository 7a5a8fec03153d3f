package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to the renderer service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type unitRequest struct {
	Config    json.RawMessage `json:"config"`
	UnitIndex int             `json:"unit_index"`
}

type assembleRequest struct {
	Config    json.RawMessage `json:"config"`
	Artifacts []Artifact      `json:"artifacts"`
}

func (c *HTTPClient) RenderUnit(ctx context.Context, config json.RawMessage, unit int) (Artifact, error) {
	return c.post(ctx, "/render/unit", unitRequest{Config: config, UnitIndex: unit})
}

func (c *HTTPClient) AssembleFinal(ctx context.Context, config json.RawMessage, artifacts []Artifact) (Artifact, error) {
	return c.post(ctx, "/render/assemble", assembleRequest{Config: config, Artifacts: artifacts})
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (Artifact, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Artifact{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Artifact{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Artifact{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Artifact{}, fmt.Errorf("renderer http %d", res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		ContentType: res.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
