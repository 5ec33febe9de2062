// Package weather fetches active alerts and forecasts from an NWS-style
// REST service, with time-bounded caching so one chatty conversation does
// not hammer the rate-sensitive upstream.
package weather

import (
	"errors"
	"time"
)

// ErrUnavailable indicates the upstream service failed and no cached
// snapshot exists to fall back on.
var ErrUnavailable = errors.New("weather service unavailable")

// Alert is one active weather alert for an area.
type Alert struct {
	Event    string    `json:"event"`
	Severity string    `json:"severity"`
	Headline string    `json:"headline"`
	Area     string    `json:"area"`
	Expires  time.Time `json:"expires"`

	// Description is truncated upstream text, kept short for model context.
	Description string `json:"description"`
}

// ForecastPeriod is one named forecast window (e.g. "Tonight").
type ForecastPeriod struct {
	Name            string `json:"name"`
	Temperature     int    `json:"temperature"`
	TemperatureUnit string `json:"temperature_unit"`
	ShortForecast   string `json:"short_forecast"`
	Detailed        string `json:"detailed"`
}
