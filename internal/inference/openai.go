package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
)

// =============================================================================
// OpenAI-compatible Backend
// =============================================================================
// Talks to a local llama.cpp / vLLM style server over the chat completions
// API. Schema enforcement is prompt-level: the server families we target do
// not all honor json_schema response formats, so the schema rides in the
// system message and validation happens in the caller.

const (
	openaiMaxRetries  = 3
	openaiMinInterval = 200 * time.Millisecond
)

// OpenAIClient implements Generator against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	spec       config.ModelSpec
	httpClient *http.Client

	rateMu      sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClient creates a client for the given model spec.
func NewOpenAIClient(spec config.ModelSpec) *OpenAIClient {
	return &OpenAIClient{
		spec:       spec,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// MaxContextTokens reports the configured model context length.
func (c *OpenAIClient) MaxContextTokens() int { return c.spec.ContextTokens }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate performs one structured generation call with retry on transient
// server errors.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Result, error) {
	log := logging.Get(logging.CategoryInference)

	body := chatRequest{
		Model:       c.spec.Name,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema != nil {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &GenerationError{Backend: c.spec.Name, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= openaiMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			log.Warn("retrying generation",
				zap.String("model", c.spec.Name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &GenerationError{Backend: c.spec.Name, Err: ctx.Err()}
			}
		}

		result, retryable, err := c.doRequest(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, &GenerationError{Backend: c.spec.Name, Err: lastErr}
}

// doRequest performs one HTTP round trip. The bool reports whether the
// failure is worth retrying.
func (c *OpenAIClient) doRequest(ctx context.Context, payload []byte) (*Result, bool, error) {
	c.throttle()

	url := strings.TrimRight(c.spec.Endpoint, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.spec.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.spec.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server returned %d: %s", resp.StatusCode, truncateBody(raw))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("server returned %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("malformed completion response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("server error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, true, fmt.Errorf("empty choices in completion response")
	}

	return &Result{
		JSON:         extractJSON(parsed.Choices[0].Message.Content),
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, false, nil
}

// throttle enforces a minimum interval between requests to the local server.
func (c *OpenAIClient) throttle() {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	if wait := openaiMinInterval - time.Since(c.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
}

// buildMessages assembles the chat turn list, folding the schema into the
// system message when present.
func buildMessages(req Request) []chatMessage {
	system := req.System
	if req.Schema != nil {
		schemaJSON, err := json.MarshalIndent(req.Schema, "", "  ")
		if err == nil {
			system += "\n\nRespond with a single JSON object matching this schema exactly. No prose outside the JSON.\n" + string(schemaJSON)
		}
	}
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	return msgs
}

// extractJSON strips markdown fences some instruct models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	// Fall back to the outermost braces when the model added prose anyway.
	if !strings.HasPrefix(s, "{") {
		if start := strings.Index(s, "{"); start >= 0 {
			if end := strings.LastIndex(s, "}"); end > start {
				s = s[start : end+1]
			}
		}
	}
	return s
}

func truncateBody(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
