package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultHTTPTimeout bounds each collaborator request.
const DefaultHTTPTimeout = 5 * time.Second

// HTTPClient is a small JSON client for collaborator APIs. Requests are
// traced through otelhttp.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for baseURL. token, when set, is sent as
// a bearer token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// GetJSON performs a GET and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

// PostJSON sends body as JSON and decodes the response into out (if non-nil).
func (c *HTTPClient) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HTTPContentSource fetches descriptors from the content subsystem.
type HTTPContentSource struct {
	client *HTTPClient
}

// NewHTTPContentSource creates a content source.
func NewHTTPContentSource(client *HTTPClient) *HTTPContentSource {
	return &HTTPContentSource{client: client}
}

// GetContentDescriptor implements ContentSource.
func (s *HTTPContentSource) GetContentDescriptor(ctx context.Context, creatorID string) (*ContentDescriptor, error) {
	var d ContentDescriptor
	if err := s.client.GetJSON(ctx, "/creators/"+url.PathEscape(creatorID)+"/descriptor", nil, &d); err != nil {
		return nil, err
	}
	if d.CreatorID == "" {
		d.CreatorID = creatorID
	}
	return &d, nil
}

// HTTPModerationIntake opens cases in the moderation subsystem.
type HTTPModerationIntake struct {
	client *HTTPClient
}

// NewHTTPModerationIntake creates a moderation intake client.
func NewHTTPModerationIntake(client *HTTPClient) *HTTPModerationIntake {
	return &HTTPModerationIntake{client: client}
}

type openCaseRequest struct {
	CreatorID string   `json:"creator_id"`
	Evidence  Evidence `json:"evidence"`
}

type openCaseResponse struct {
	CaseID string `json:"case_id"`
}

// OpenModerationCase implements ModerationIntake.
func (m *HTTPModerationIntake) OpenModerationCase(ctx context.Context, creatorID string, evidence Evidence) (string, error) {
	var resp openCaseResponse
	if err := m.client.PostJSON(ctx, "/cases", openCaseRequest{CreatorID: creatorID, Evidence: evidence}, &resp); err != nil {
		return "", err
	}
	return resp.CaseID, nil
}

// HTTPCatalog reads creator metadata.
type HTTPCatalog struct {
	client *HTTPClient
}

// NewHTTPCatalog creates a catalog client.
func NewHTTPCatalog(client *HTTPClient) *HTTPCatalog {
	return &HTTPCatalog{client: client}
}

// GetCreator implements Catalog.
func (c *HTTPCatalog) GetCreator(ctx context.Context, creatorID string) (*CreatorProfile, error) {
	var p CreatorProfile
	if err := c.client.GetJSON(ctx, "/creators/"+url.PathEscape(creatorID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListCreators implements Catalog.
func (c *HTTPCatalog) ListCreators(ctx context.Context) ([]CreatorProfile, error) {
	var out struct {
		Creators []CreatorProfile `json:"creators"`
	}
	if err := c.client.GetJSON(ctx, "/creators", nil, &out); err != nil {
		return nil, err
	}
	return out.Creators, nil
}
