package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
	"finsynth/internal/types"
)

const (
	marketDefaultBaseURL = "https://www.alphavantage.co"

	// Daily moves past this magnitude are flagged as anomalies.
	anomalousChangePct = 5.0
)

// MarketFetcher pulls quote snapshots from Alpha Vantage for the query's
// assets.
type MarketFetcher struct {
	cfg        config.SourceConfig
	limiter    *Limiter
	httpClient *http.Client
}

// NewMarketFetcher creates the market fetcher.
func NewMarketFetcher(cfg config.SourceConfig) *MarketFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = marketDefaultBaseURL
	}
	return &MarketFetcher{
		cfg:        cfg,
		limiter:    NewLimiter(cfg.MinInterval),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (f *MarketFetcher) Kind() types.SourceKind { return types.SourceMarket }
func (f *MarketFetcher) Name() string           { return "Alpha Vantage" }

type quoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	ErrorMsg    string            `json:"Error Message"`
}

// Fetch retrieves one quote per asset. A per-asset failure skips that asset;
// the fetch only fails when every asset fails.
func (f *MarketFetcher) Fetch(ctx context.Context, query types.Query) ([]types.SourceRecord, error) {
	assets := query.Assets
	if len(assets) == 0 {
		return nil, nil
	}

	var records []types.SourceRecord
	var lastErr error
	for _, symbol := range assets {
		rec, err := f.quote(ctx, symbol)
		if err != nil {
			lastErr = err
			logging.Get(logging.CategoryFetch).Warn("quote failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 && lastErr != nil {
		return nil, &FetchError{Source: f.Name(), Err: lastErr}
	}
	return records, nil
}

func (f *MarketFetcher) quote(ctx context.Context, symbol string) (types.SourceRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return types.SourceRecord{}, err
	}

	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", f.cfg.APIKey)
	endpoint := f.cfg.BaseURL + "/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.SourceRecord{}, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return types.SourceRecord{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.SourceRecord{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return types.SourceRecord{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return types.SourceRecord{}, err
	}
	if parsed.ErrorMsg != "" {
		return types.SourceRecord{}, fmt.Errorf("provider error: %s", parsed.ErrorMsg)
	}
	if parsed.Note != "" {
		return types.SourceRecord{}, fmt.Errorf("rate limited: %s", parsed.Note)
	}
	if len(parsed.GlobalQuote) == 0 {
		return types.SourceRecord{}, fmt.Errorf("empty quote for %s", symbol)
	}

	price := parseQuoteFloat(parsed.GlobalQuote, "05. price")
	changePct := parseChangePercent(parsed.GlobalQuote["10. change percent"])
	volume := parseQuoteFloat(parsed.GlobalQuote, "06. volume")

	text := fmt.Sprintf("%s trading at %.2f, daily change %.2f%%, volume %.0f.",
		symbol, price, changePct, volume)
	anomaly := math.Abs(changePct) >= anomalousChangePct
	if anomaly {
		text += " Move exceeds the daily anomaly threshold."
	}

	return types.SourceRecord{
		Kind:   types.SourceMarket,
		Source: f.Name(),
		Text:   text,
		NumericFields: map[string]float64{
			"price":          price,
			"change_percent": changePct,
			"volume":         volume,
		},
		Timestamp: time.Now().UTC(),
		Anomaly:   anomaly,
	}, nil
}

func parseQuoteFloat(quote map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(quote[key]), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseChangePercent(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0
	}
	return v
}
