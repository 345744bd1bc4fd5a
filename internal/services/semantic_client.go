package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flowsentinel/backend/pkg/models"
)

// AnalyzeRequest is sent to the semantic analysis service.
type AnalyzeRequest struct {
	Workflow *models.WorkflowDocument `json:"workflow"`
	Outcome  Outcome                  `json:"outcome"`
}

// Outcome is the execution feedback attached to an analysis request.
type Outcome struct {
	Success      bool    `json:"success"`
	Satisfaction float64 `json:"satisfaction,omitempty"`
	Feedback     string  `json:"feedback,omitempty"`
}

// Analysis is the semantic service's structured reading of a workflow.
type Analysis struct {
	// PatternID is optional; when empty the pattern is identified by its
	// archetype and node types.
	PatternID           string                `json:"patternId,omitempty"`
	Archetype           string                `json:"archetype"`
	EmbeddingConfidence float64               `json:"embeddingConfidence"`
	SemanticStability   float64               `json:"semanticStability"`
	RelationshipHints   []models.Relationship `json:"relationshipHints"`
}

// HTTPSemanticClient is an HTTP implementation of the SemanticClient interface.
type HTTPSemanticClient struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSemanticClient creates a new HTTPSemanticClient.
func NewHTTPSemanticClient(url string, timeout time.Duration) *HTTPSemanticClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSemanticClient{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze posts the workflow and its outcome to the analysis endpoint.
func (c *HTTPSemanticClient) Analyze(ctx context.Context, analyzeReq AnalyzeRequest) (*Analysis, error) {
	requestBody, err := json.Marshal(analyzeReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/analyze", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to analyze workflow: status code %d", resp.StatusCode)
	}

	var analysis Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if analysis.Archetype == "" {
		return nil, errors.New("analysis carries no archetype")
	}
	if analysis.EmbeddingConfidence < 0 || analysis.EmbeddingConfidence > 1 {
		return nil, fmt.Errorf("embedding confidence %v out of range", analysis.EmbeddingConfidence)
	}

	return &analysis, nil
}
