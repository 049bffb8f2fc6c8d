package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
)

// =============================================================================
// Gemini Backend
// =============================================================================
// Hosted fallback when no local server is configured. Unlike the local
// backend, Gemini enforces the schema API-side via responseSchema; on a 400
// the call is retried once without the schema (some schema shapes are
// rejected by the endpoint, the prompt still carries the contract).

const (
	genaiDefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	genaiMaxRetries      = 3
	genaiMinInterval     = time.Second
)

// GenAIGenerator implements Generator against the Gemini REST API.
type GenAIGenerator struct {
	spec       config.ModelSpec
	endpoint   string
	httpClient *http.Client

	rateMu      sync.Mutex
	lastRequest time.Time
}

// NewGenAIGenerator creates a Gemini-backed generator.
func NewGenAIGenerator(spec config.ModelSpec) (*GenAIGenerator, error) {
	if spec.APIKey == "" {
		return nil, fmt.Errorf("genai provider requires an API key")
	}
	endpoint := spec.Endpoint
	if endpoint == "" {
		endpoint = genaiDefaultEndpoint
	}
	return &GenAIGenerator{
		spec:       spec,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// MaxContextTokens reports the configured model context length.
func (g *GenAIGenerator) MaxContextTokens() int { return g.spec.ContextTokens }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate performs one structured generation call against Gemini.
func (g *GenAIGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	log := logging.Get(logging.CategoryInference)

	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Schema != nil {
		reqBody.GenerationConfig.ResponseMimeType = "application/json"
		reqBody.GenerationConfig.ResponseSchema = req.Schema
	}

	var lastErr error
	for attempt := 0; attempt <= genaiMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &GenerationError{Backend: g.spec.Name, Err: ctx.Err()}
			}
		}

		result, status, err := g.doRequest(ctx, &reqBody)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case status == http.StatusBadRequest && reqBody.GenerationConfig.ResponseSchema != nil:
			// The endpoint rejected the schema shape. Drop the API-side
			// enforcement and rely on the prompt contract.
			log.Warn("schema rejected by endpoint, retrying without responseSchema",
				zap.String("model", g.spec.Name))
			reqBody.GenerationConfig.ResponseSchema = nil
			reqBody.GenerationConfig.ResponseMimeType = "application/json"
		case status == http.StatusTooManyRequests || status >= 500 || status == 0:
			log.Warn("transient generation failure",
				zap.String("model", g.spec.Name),
				zap.Int("status", status),
				zap.Int("attempt", attempt))
		default:
			return nil, &GenerationError{Backend: g.spec.Name, Err: err}
		}
	}
	return nil, &GenerationError{Backend: g.spec.Name, Err: lastErr}
}

// doRequest performs one HTTP round trip. status is 0 on transport failure.
func (g *GenAIGenerator) doRequest(ctx context.Context, body *geminiRequest) (*Result, int, error) {
	g.throttle()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.endpoint, g.spec.Name, g.spec.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("gemini returned %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("malformed gemini response: %w", err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error.Code, fmt.Errorf("gemini error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, resp.StatusCode, fmt.Errorf("no candidates in gemini response")
	}

	return &Result{
		JSON:         extractJSON(parsed.Candidates[0].Content.Parts[0].Text),
		PromptTokens: parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, resp.StatusCode, nil
}

func (g *GenAIGenerator) throttle() {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()
	if wait := genaiMinInterval - time.Since(g.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	g.lastRequest = time.Now()
}
