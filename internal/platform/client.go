// Package platform is the HTTP client for the workflow automation platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sentinelerrors "flowsentinel/backend/pkg/errors"
	"flowsentinel/backend/pkg/models"

	"golang.org/x/time/rate"
)

// APIKeyHeader carries the platform API key on every request.
const APIKeyHeader = "X-N8N-API-KEY"

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// resources names what a 404 means for operations addressing one resource.
var resources = map[string]string{
	"getWorkflow":    "workflow",
	"updateWorkflow": "workflow",
}

// Options configures a Client.
type Options struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// RateLimit is the sustained request rate per second. Zero disables
	// limiting.
	RateLimit float64
	Burst     int
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// Client talks to the platform's REST endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new platform client.
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("platform URL is required")
	}
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid platform URL %q: %w", opts.URL, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// GetVersion returns the platform's release version.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var settings struct {
		Data struct {
			VersionCli string `json:"versionCli"`
		} `json:"data"`
	}
	if err := c.do(ctx, "getVersion", http.MethodGet, "/rest/settings", nil, &settings); err != nil {
		return "", err
	}
	if settings.Data.VersionCli == "" {
		return "", &sentinelerrors.PlatformError{Op: "getVersion", StatusCode: http.StatusOK, Message: "settings carry no versionCli"}
	}
	return settings.Data.VersionCli, nil
}

// ListNodeTypes returns every node type the platform offers. Versioned
// types may appear more than once.
func (c *Client) ListNodeTypes(ctx context.Context) ([]models.NodeTypeDescriptor, error) {
	var raw []rawNodeType
	if err := c.do(ctx, "listNodeTypes", http.MethodGet, "/types/nodes.json", nil, &raw); err != nil {
		return nil, err
	}
	descriptors := make([]models.NodeTypeDescriptor, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			continue
		}
		descriptors = append(descriptors, r.descriptor())
	}
	return descriptors, nil
}

// GetWorkflow fetches a workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDocument, error) {
	var doc models.WorkflowDocument
	if err := c.do(ctx, "getWorkflow", http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, &doc); err != nil {
		var nf *sentinelerrors.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = id
		}
		return nil, err
	}
	return &doc, nil
}

// CreateWorkflow submits a new workflow and returns the stored document.
func (c *Client) CreateWorkflow(ctx context.Context, doc *models.WorkflowDocument) (*models.WorkflowDocument, error) {
	var created models.WorkflowDocument
	if err := c.do(ctx, "createWorkflow", http.MethodPost, "/api/v1/workflows", submission(doc), &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateWorkflow replaces the workflow with the given id.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, doc *models.WorkflowDocument) (*models.WorkflowDocument, error) {
	var updated models.WorkflowDocument
	if err := c.do(ctx, "updateWorkflow", http.MethodPut, "/api/v1/workflows/"+url.PathEscape(id), submission(doc), &updated); err != nil {
		var nf *sentinelerrors.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = id
		}
		return nil, err
	}
	return &updated, nil
}

// workflowPayload is the body accepted on create and replace. It carries
// no server-assigned fields.
type workflowPayload struct {
	Name        string             `json:"name"`
	Nodes       []models.Node      `json:"nodes"`
	Connections models.Connections `json:"connections"`
	Settings    map[string]any     `json:"settings"`
}

// submission builds the write payload. The platform requires every
// collection to be present even when empty.
func submission(doc *models.WorkflowDocument) workflowPayload {
	p := workflowPayload{
		Name:        doc.Name,
		Nodes:       make([]models.Node, len(doc.Nodes)),
		Connections: doc.Connections,
		Settings:    doc.Settings,
	}
	copy(p.Nodes, doc.Nodes)
	for i := range p.Nodes {
		if p.Nodes[i].Parameters == nil {
			p.Nodes[i].Parameters = map[string]any{}
		}
	}
	if p.Connections == nil {
		p.Connections = models.Connections{}
	}
	if p.Settings == nil {
		p.Settings = map[string]any{}
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sentinelerrors.PlatformUnreachableError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if err := statusError(op, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &sentinelerrors.PlatformError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// statusError maps an HTTP status to the client's error types. Server-side
// failures and throttling are retryable outages; other failures are not.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := errorMessage(b)

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		var cause error
		if message != "" {
			cause = errors.New(message)
		}
		return &sentinelerrors.PlatformUnreachableError{Op: op, StatusCode: resp.StatusCode, Cause: cause}
	case resp.StatusCode == http.StatusNotFound && resources[op] != "":
		return &sentinelerrors.NotFoundError{Resource: resources[op]}
	default:
		return &sentinelerrors.PlatformError{Op: op, StatusCode: resp.StatusCode, Message: message}
	}
}

// errorMessage prefers the platform's {"message": ...} body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
