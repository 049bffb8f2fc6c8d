package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
	"finsynth/internal/types"
)

const newsDefaultBaseURL = "https://newsapi.org/v2"

// NewsFetcher pulls headlines from a NewsAPI-compatible endpoint. News is the
// mandatory anomaly feed: crisis signal almost always lands here first.
type NewsFetcher struct {
	cfg        config.SourceConfig
	limiter    *Limiter
	httpClient *http.Client
}

// NewNewsFetcher creates the news fetcher.
func NewNewsFetcher(cfg config.SourceConfig) *NewsFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = newsDefaultBaseURL
	}
	return &NewsFetcher{
		cfg:        cfg,
		limiter:    NewLimiter(cfg.MinInterval),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (f *NewsFetcher) Kind() types.SourceKind { return types.SourceNews }
func (f *NewsFetcher) Name() string           { return "NewsAPI" }

type newsResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Content     string    `json:"content"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// Fetch searches recent articles for the query terms.
func (f *NewsFetcher) Fetch(ctx context.Context, query types.Query) ([]types.SourceRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}

	params := url.Values{}
	params.Set("q", searchTerms(query))
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", "20")
	params.Set("language", "en")
	endpoint := f.cfg.BaseURL + "/everything?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}
	req.Header.Set("X-Api-Key", f.cfg.APIKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: f.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed newsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}
	if parsed.Status != "ok" {
		return nil, &FetchError{Source: f.Name(), Err: fmt.Errorf("provider error: %s", parsed.Message)}
	}

	records := make([]types.SourceRecord, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		text := a.Title
		if a.Description != "" {
			text += ". " + a.Description
		}
		source := a.Source.Name
		if source == "" {
			source = f.Name()
		}
		records = append(records, types.SourceRecord{
			Kind:      types.SourceNews,
			Source:    source,
			Text:      text,
			Timestamp: a.PublishedAt,
			Anomaly:   IsAnomalous(text),
		})
	}

	logging.Get(logging.CategoryFetch).Info("news fetched",
		zap.Int("articles", len(records)))
	return records, nil
}
