package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const systemInstruction = "You are an expert email categorization assistant. " +
	"Always respond with valid JSON in the specified format."

// LMStudioClient talks to an LM Studio server (or any OpenAI-compatible
// chat completions endpoint) running a local model.
type LMStudioClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewLMStudioClient creates a new LM Studio client.
func NewLMStudioClient(baseURL, model string, timeout time.Duration) *LMStudioClient {
	if baseURL == "" {
		baseURL = "http://localhost:1234"
	}
	if model == "" {
		model = "mistral"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LMStudioClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Client.
func (c *LMStudioClient) Name() string { return "lmstudio" }

// Classify implements Client via the /v1/chat/completions endpoint.
func (c *LMStudioClient) Classify(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemInstruction},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
		"max_tokens":  500,
		"stream":      false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lmstudio request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lmstudio API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("lmstudio returned no choices")
	}

	return result.Choices[0].Message.Content, nil
}
