package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ckwflash/LiveHack2025/domain"
)

// AnalysisEngineClient calls the external service that turns page text into
// a structured sustainability analysis. Calls are not retried.
type AnalysisEngineClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAnalysisEngineClient(baseURL string, timeout time.Duration) *AnalysisEngineClient {
	return &AnalysisEngineClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	RawText string `json:"raw_text"`
}

type analyzeResponse struct {
	domain.ProductAnalysis
	Error string `json:"error,omitempty"`
}

func (c *AnalysisEngineClient) Analyze(ctx context.Context, rawText string) (*domain.ProductAnalysis, error) {
	body, err := json.Marshal(analyzeRequest{RawText: rawText})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analysis engine returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("analysis engine error: %s", out.Error)
	}
	if out.SustainabilityAnalysis == nil {
		return nil, errors.New("analysis engine returned no sustainability_analysis")
	}
	return &out.ProductAnalysis, nil
}
