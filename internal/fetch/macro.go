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
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
	"finsynth/internal/types"
)

const macroDefaultBaseURL = "https://api.stlouisfed.org/fred"

// macroSeries are the FRED indicators fetched for every run.
var macroSeries = []struct {
	ID    string
	Label string
}{
	{"CPIAUCSL", "Consumer Price Index"},
	{"UNRATE", "Unemployment rate"},
	{"FEDFUNDS", "Federal funds rate"},
	{"VIXCLS", "CBOE volatility index"},
}

// vixAnomalyLevel flags regime stress; a VIX at this level marks the record
// anomalous regardless of the query.
const vixAnomalyLevel = 30.0

// MacroFetcher pulls indicator series from FRED.
type MacroFetcher struct {
	cfg        config.SourceConfig
	limiter    *Limiter
	httpClient *http.Client
}

// NewMacroFetcher creates the macro fetcher.
func NewMacroFetcher(cfg config.SourceConfig) *MacroFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = macroDefaultBaseURL
	}
	return &MacroFetcher{
		cfg:        cfg,
		limiter:    NewLimiter(cfg.MinInterval),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (f *MacroFetcher) Kind() types.SourceKind { return types.SourceMacro }
func (f *MacroFetcher) Name() string           { return "FRED" }

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
	ErrorMessage string `json:"error_message"`
}

// Fetch retrieves the latest observation of each configured series.
func (f *MacroFetcher) Fetch(ctx context.Context, query types.Query) ([]types.SourceRecord, error) {
	var records []types.SourceRecord
	var lastErr error
	for _, series := range macroSeries {
		rec, err := f.latest(ctx, series.ID, series.Label)
		if err != nil {
			lastErr = err
			logging.Get(logging.CategoryFetch).Warn("macro series failed",
				zap.String("series", series.ID), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 && lastErr != nil {
		return nil, &FetchError{Source: f.Name(), Err: lastErr}
	}
	return records, nil
}

func (f *MacroFetcher) latest(ctx context.Context, seriesID, label string) (types.SourceRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return types.SourceRecord{}, err
	}

	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", f.cfg.APIKey)
	params.Set("file_type", "json")
	params.Set("sort_order", "desc")
	params.Set("limit", "2")
	endpoint := f.cfg.BaseURL + "/series/observations?" + params.Encode()

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

	var parsed fredResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return types.SourceRecord{}, err
	}
	if parsed.ErrorMessage != "" {
		return types.SourceRecord{}, fmt.Errorf("provider error: %s", parsed.ErrorMessage)
	}
	if len(parsed.Observations) == 0 {
		return types.SourceRecord{}, fmt.Errorf("no observations for %s", seriesID)
	}

	latest := parsed.Observations[0]
	value, err := strconv.ParseFloat(latest.Value, 64)
	if err != nil {
		return types.SourceRecord{}, fmt.Errorf("non-numeric observation %q for %s", latest.Value, seriesID)
	}
	observedAt, err := time.Parse("2006-01-02", latest.Date)
	if err != nil {
		observedAt = time.Now().UTC()
	}

	text := fmt.Sprintf("%s (%s) latest reading %.2f as of %s.", label, seriesID, value, latest.Date)
	fields := map[string]float64{"value": value}

	var anomaly bool
	if seriesID == "VIXCLS" && value >= vixAnomalyLevel {
		anomaly = true
		text += " Volatility is in the stress regime."
	}
	if len(parsed.Observations) > 1 {
		if prev, err := strconv.ParseFloat(parsed.Observations[1].Value, 64); err == nil && prev != 0 {
			delta := (value - prev) / math.Abs(prev) * 100
			fields["change_percent"] = delta
			if math.Abs(delta) >= anomalousChangePct {
				anomaly = true
				text += fmt.Sprintf(" Moved %.1f%% since the prior observation.", delta)
			}
		}
	}

	return types.SourceRecord{
		Kind:          types.SourceMacro,
		Source:        f.Name(),
		Text:          text,
		NumericFields: fields,
		Timestamp:     observedAt,
		Anomaly:       anomaly,
	}, nil
}
