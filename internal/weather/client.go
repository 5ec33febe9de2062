package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polarops/snowdesk/internal/config"
	"github.com/polarops/snowdesk/internal/log"
)

const (
	// maxResponseSize caps upstream response bodies.
	maxResponseSize = 4 << 20 // 4MB

	// maxAlerts bounds how many active alerts one snapshot keeps.
	maxAlerts = 5

	// maxForecastPeriods bounds how many forecast windows one snapshot keeps.
	maxForecastPeriods = 7

	// descriptionLimit truncates alert descriptions for model context.
	descriptionLimit = 500
)

// Config configures the weather client.
type Config struct {
	BaseURL   string        // upstream service base URL, required
	UserAgent string        // identifies this client to the upstream, required
	CacheTTL  time.Duration // snapshot freshness window (default 5m)
	StaleMax  time.Duration // advisory purge age (default 1h)
	Logger    log.Logger    // required
	Client    *http.Client  // optional, for tests
}

// Client fetches alerts and forecasts with per-key snapshot caching.
// Safe for concurrent use.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    log.Logger
	cache     *cache
}

// New creates a weather client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("weather base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("weather user agent is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = config.DefaultWeatherTTL
	}
	staleMax := cfg.StaleMax
	if staleMax <= 0 {
		staleMax = config.DefaultWeatherStaleMax
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      client,
		logger:    cfg.Logger,
		cache:     newCache(ttl, staleMax),
	}, nil
}

// Alerts returns active alerts for an area code (e.g. "AK"). Within the TTL
// the cached snapshot is returned without an upstream call; a failed refresh
// falls back to the prior snapshot when one exists.
func (c *Client) Alerts(ctx context.Context, area string) ([]Alert, error) {
	key := "alerts/" + area
	alerts, stale, err := getOrFetch(ctx, c.cache, key, func(ctx context.Context) ([]Alert, error) {
		return c.fetchAlerts(ctx, area)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: alerts for %s: %w", ErrUnavailable, area, err)
	}
	if stale {
		c.logger.Warn("serving stale weather alerts", "area", area)
	}
	c.cache.purge()
	return alerts, nil
}

// Forecast returns forecast periods for coordinates, resolved through the
// upstream's two-step points lookup. Caching matches Alerts.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) ([]ForecastPeriod, error) {
	key := fmt.Sprintf("forecast/%.4f,%.4f", lat, lon)
	periods, stale, err := getOrFetch(ctx, c.cache, key, func(ctx context.Context) ([]ForecastPeriod, error) {
		return c.fetchForecast(ctx, lat, lon)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: forecast for %.4f,%.4f: %w", ErrUnavailable, lat, lon, err)
	}
	if stale {
		c.logger.Warn("serving stale weather forecast", "lat", lat, "lon", lon)
	}
	c.cache.purge()
	return periods, nil
}

// alertsResponse is the GeoJSON envelope of the active-alerts endpoint.
type alertsResponse struct {
	Features []struct {
		Properties struct {
			Event       string    `json:"event"`
			Severity    string    `json:"severity"`
			Headline    string    `json:"headline"`
			AreaDesc    string    `json:"areaDesc"`
			Expires     time.Time `json:"expires"`
			Description string    `json:"description"`
		} `json:"properties"`
	} `json:"features"`
}

func (c *Client) fetchAlerts(ctx context.Context, area string) ([]Alert, error) {
	url := fmt.Sprintf("%s/alerts/active?area=%s", c.baseURL, area)
	var parsed alertsResponse
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return nil, err
	}

	alerts := make([]Alert, 0, min(len(parsed.Features), maxAlerts))
	for _, f := range parsed.Features {
		if len(alerts) == maxAlerts {
			break
		}
		p := f.Properties
		alerts = append(alerts, Alert{
			Event:       p.Event,
			Severity:    p.Severity,
			Headline:    p.Headline,
			Area:        p.AreaDesc,
			Expires:     p.Expires,
			Description: truncate(p.Description, descriptionLimit),
		})
	}
	return alerts, nil
}

// pointsResponse carries the forecast URL for a coordinate pair.
type pointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

// forecastResponse is the period list of the forecast endpoint.
type forecastResponse struct {
	Properties struct {
		Periods []struct {
			Name             string `json:"name"`
			Temperature      int    `json:"temperature"`
			TemperatureUnit  string `json:"temperatureUnit"`
			ShortForecast    string `json:"shortForecast"`
			DetailedForecast string `json:"detailedForecast"`
		} `json:"periods"`
	} `json:"properties"`
}

func (c *Client) fetchForecast(ctx context.Context, lat, lon float64) ([]ForecastPeriod, error) {
	var points pointsResponse
	pointsURL := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lon)
	if err := c.getJSON(ctx, pointsURL, &points); err != nil {
		return nil, err
	}
	if points.Properties.Forecast == "" {
		return nil, fmt.Errorf("points response missing forecast URL")
	}

	var parsed forecastResponse
	if err := c.getJSON(ctx, points.Properties.Forecast, &parsed); err != nil {
		return nil, err
	}

	raw := parsed.Properties.Periods
	periods := make([]ForecastPeriod, 0, min(len(raw), maxForecastPeriods))
	for _, p := range raw {
		if len(periods) == maxForecastPeriods {
			break
		}
		periods = append(periods, ForecastPeriod{
			Name:            p.Name,
			Temperature:     p.Temperature,
			TemperatureUnit: p.TemperatureUnit,
			ShortForecast:   p.ShortForecast,
			Detailed:        p.DetailedForecast,
		})
	}
	return periods, nil
}

// getJSON issues a GET and decodes the size-capped JSON body into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading %s: %w", url, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
