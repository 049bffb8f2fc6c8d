package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/lifecycle"
	"finsynth/internal/logging"
)

// =============================================================================
// Model Loaders
// =============================================================================

// ServerLoader drives an ollama-style admin API: a warm-up generate call with
// keep_alive pins the model in memory, keep_alive zero evicts it. Unload polls
// until the model leaves the process list so release is truly synchronous.
type ServerLoader struct {
	httpClient *http.Client
}

// NewServerLoader creates a loader for local model servers.
func NewServerLoader() *ServerLoader {
	return &ServerLoader{httpClient: &http.Client{Timeout: 5 * time.Minute}}
}

type keepAliveRequest struct {
	Model     string `json:"model"`
	KeepAlive int    `json:"keep_alive"`
}

// Load pins the model resident on the server.
func (l *ServerLoader) Load(ctx context.Context, spec config.ModelSpec) error {
	if err := l.post(ctx, spec, keepAliveRequest{Model: spec.Name, KeepAlive: -1}); err != nil {
		return fmt.Errorf("warm-up load for %s: %w", spec.Name, err)
	}
	logging.Get(logging.CategoryLifecycle).Debug("model pinned on server",
		zap.String("model", spec.Name), zap.String("endpoint", spec.Endpoint))
	return nil
}

// Unload evicts the model and waits for the memory to be reclaimed.
func (l *ServerLoader) Unload(ctx context.Context, spec config.ModelSpec) error {
	if err := l.post(ctx, spec, keepAliveRequest{Model: spec.Name, KeepAlive: 0}); err != nil {
		return fmt.Errorf("eviction for %s: %w", spec.Name, err)
	}
	return l.waitEvicted(ctx, spec)
}

func (l *ServerLoader) post(ctx context.Context, spec config.ModelSpec, body keepAliveRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimRight(spec.Endpoint, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, truncateBody(raw))
	}
	return nil
}

// waitEvicted polls the process list until the model is gone. The context
// bounds the wait.
func (l *ServerLoader) waitEvicted(ctx context.Context, spec config.ModelSpec) error {
	url := strings.TrimRight(spec.Endpoint, "/") + "/api/ps"
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		resident, err := l.isResident(ctx, url, spec.Name)
		if err != nil || !resident {
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s eviction: %w", spec.Name, ctx.Err())
		}
	}
}

func (l *ServerLoader) isResident(ctx context.Context, url, model string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// No process list endpoint: trust the eviction call.
		return false, nil
	}

	var ps struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return false, nil
	}
	for _, m := range ps.Models {
		if m.Name == model {
			return true, nil
		}
	}
	return false, nil
}

// NopLoader satisfies the residency protocol for hosted providers, where
// nothing occupies local memory. The state machine and its audit trace still
// run; only the load/unload side effects are empty.
type NopLoader struct{}

func (NopLoader) Load(context.Context, config.ModelSpec) error   { return nil }
func (NopLoader) Unload(context.Context, config.ModelSpec) error { return nil }

// LoaderFor picks the loader matching a model spec's provider.
func LoaderFor(spec config.ModelSpec) lifecycle.Loader {
	if spec.Provider == "genai" {
		return NopLoader{}
	}
	return NewServerLoader()
}
