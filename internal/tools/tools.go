// Package tools defines the function-calling tools exposed to the model.
//
// Two tools are registered: search_snow_faqs for FAQ retrieval and
// get_snow_weather for alerts and forecasts. Tool failures never propagate
// as errors; they become structured payloads the model can explain to the
// user, so a degraded backend degrades the answer instead of the turn.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/polarops/snowdesk/internal/knowledge"
	"github.com/polarops/snowdesk/internal/log"
	"github.com/polarops/snowdesk/internal/weather"
)

// Tool name constants registered with Genkit.
const (
	SearchFAQsName = "search_snow_faqs"
	GetWeatherName = "get_snow_weather"
)

// Payload limits matching what the model can usefully consume.
const (
	maxAlertEntries       = 3
	maxForecastEntries    = 3
	alertDescriptionLimit = 200
)

// FAQSearcher finds FAQ passages relevant to a query.
type FAQSearcher interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Match, error)
}

// WeatherSource provides alerts and forecasts.
type WeatherSource interface {
	Alerts(ctx context.Context, area string) ([]weather.Alert, error)
	Forecast(ctx context.Context, lat, lon float64) ([]weather.ForecastPeriod, error)
}

// FAQSearchInput defines input for the search_snow_faqs tool.
type FAQSearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query to find relevant FAQs"`
}

// WeatherInput defines input for the get_snow_weather tool. Coordinates are
// optional; the configured service area default applies when omitted.
type WeatherInput struct {
	Latitude  *float64 `json:"latitude,omitempty" jsonschema_description:"Latitude of the location"`
	Longitude *float64 `json:"longitude,omitempty" jsonschema_description:"Longitude of the location"`
}

// FAQEntry is one retrieved FAQ in a tool result.
type FAQEntry struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Relevance string `json:"relevance"`
}

// FAQResult is the search_snow_faqs tool payload.
type FAQResult struct {
	Found bool       `json:"found"`
	Count int        `json:"count"`
	FAQs  []FAQEntry `json:"faqs"`
	Note  string     `json:"note,omitempty"`
}

// AlertEntry is one active weather alert in a tool result.
type AlertEntry struct {
	Event       string `json:"event"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ForecastEntry is one forecast period in a tool result.
type ForecastEntry struct {
	Period      string `json:"period"`
	Temperature string `json:"temperature"`
	Conditions  string `json:"conditions"`
}

// WeatherResult is the get_snow_weather tool payload.
type WeatherResult struct {
	Alerts   []AlertEntry    `json:"alerts"`
	Forecast []ForecastEntry `json:"forecast"`
}

// errorPayload is returned for unknown tools and failed weather lookups.
type errorPayload struct {
	Error string `json:"error"`
}

// Config holds all required dependencies for the Registry.
type Config struct {
	Searcher FAQSearcher   // required
	Weather  WeatherSource // required
	Logger   log.Logger    // required

	TopK             int     // FAQ passages per search
	DefaultArea      string  // alert area code, e.g. "AK"
	DefaultLatitude  float64 // forecast point when the model omits coordinates
	DefaultLongitude float64
}

// Registry owns the tool definitions and executes dispatched requests.
type Registry struct {
	searcher FAQSearcher
	weather  WeatherSource
	logger   log.Logger

	topK       int
	area       string
	defaultLat float64
	defaultLon float64

	refs []ai.ToolRef
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("Config.Searcher is required")
	}
	if cfg.Weather == nil {
		return nil, fmt.Errorf("Config.Weather is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("Config.Logger is required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Registry{
		searcher:   cfg.Searcher,
		weather:    cfg.Weather,
		logger:     cfg.Logger,
		topK:       topK,
		area:       cfg.DefaultArea,
		defaultLat: cfg.DefaultLatitude,
		defaultLon: cfg.DefaultLongitude,
	}, nil
}

// Register registers both tools with Genkit so their declarations reach the
// model. Must be called once before Refs.
func (r *Registry) Register(g *genkit.Genkit) error {
	if g == nil {
		return fmt.Errorf("genkit instance is required")
	}

	faqTool := genkit.DefineTool(g, SearchFAQsName,
		"Search the snow department FAQ database for information about snow "+
			"services, plowing operations, staff, policies, and procedures.",
		func(ctx *ai.ToolContext, input FAQSearchInput) (FAQResult, error) {
			return r.searchFAQs(ctx, input), nil
		})

	weatherTool := genkit.DefineTool(g, GetWeatherName,
		"Get current weather alerts, warnings, and forecast. Use when the "+
			"user asks about weather, current conditions, alerts, or forecasts.",
		func(ctx *ai.ToolContext, input WeatherInput) (WeatherResult, error) {
			return r.getWeather(ctx, input)
		})

	r.refs = []ai.ToolRef{faqTool, weatherTool}
	return nil
}

// Refs returns references for every registered tool.
func (r *Registry) Refs() []ai.ToolRef {
	return r.refs
}

// Dispatch executes one tool request and returns the correlated response
// part. Unknown tools and backend failures produce error payloads rather
// than Go errors, so the model sees what went wrong.
func (r *Registry) Dispatch(ctx context.Context, req *ai.ToolRequest) *ai.Part {
	var output any
	switch req.Name {
	case SearchFAQsName:
		var in FAQSearchInput
		if err := decodeInput(req.Input, &in); err != nil {
			output = errorPayload{Error: fmt.Sprintf("invalid input: %v", err)}
			break
		}
		output = r.searchFAQs(ctx, in)
	case GetWeatherName:
		var in WeatherInput
		if err := decodeInput(req.Input, &in); err != nil {
			output = errorPayload{Error: fmt.Sprintf("invalid input: %v", err)}
			break
		}
		res, err := r.getWeather(ctx, in)
		if err != nil {
			output = errorPayload{Error: err.Error()}
			break
		}
		output = res
	default:
		r.logger.Warn("unknown tool requested", "tool", req.Name)
		output = errorPayload{Error: fmt.Sprintf("unknown tool: %s", req.Name)}
	}

	return ai.NewToolResponsePart(&ai.ToolResponse{
		Name:   req.Name,
		Ref:    req.Ref,
		Output: output,
	})
}

// searchFAQs runs the FAQ retrieval. Backend failures return a payload with
// found=false and a note instead of failing the turn.
func (r *Registry) searchFAQs(ctx context.Context, in FAQSearchInput) FAQResult {
	matches, err := r.searcher.Search(ctx, in.Query, r.topK)
	if err != nil {
		r.logger.Warn("FAQ search degraded", "error", err)
		return FAQResult{
			Found: false,
			Count: 0,
			FAQs:  []FAQEntry{},
			Note:  "FAQ database is temporarily unavailable",
		}
	}

	entries := make([]FAQEntry, 0, len(matches))
	for _, m := range matches {
		entries = append(entries, FAQEntry{
			Question:  m.FAQ.Question,
			Answer:    m.FAQ.Answer,
			Relevance: fmt.Sprintf("%.2f", m.Similarity),
		})
	}
	return FAQResult{
		Found: len(entries) > 0,
		Count: len(entries),
		FAQs:  entries,
	}
}

// errWeatherUnavailable signals that neither weather source answered.
var errWeatherUnavailable = errors.New("weather service unavailable")

// getWeather combines active alerts for the service area with the forecast
// for the requested point. One source failing still returns the other; both
// failing returns errWeatherUnavailable so the model is never shown an
// empty result that looks like a calm day.
func (r *Registry) getWeather(ctx context.Context, in WeatherInput) (WeatherResult, error) {
	lat, lon := r.defaultLat, r.defaultLon
	if in.Latitude != nil {
		lat = *in.Latitude
	}
	if in.Longitude != nil {
		lon = *in.Longitude
	}

	result := WeatherResult{
		Alerts:   []AlertEntry{},
		Forecast: []ForecastEntry{},
	}

	alerts, alertsErr := r.weather.Alerts(ctx, r.area)
	if alertsErr != nil {
		r.logger.Warn("weather alerts unavailable", "area", r.area, "error", alertsErr)
	} else {
		for i, a := range alerts {
			if i >= maxAlertEntries {
				break
			}
			result.Alerts = append(result.Alerts, AlertEntry{
				Event:       a.Event,
				Severity:    a.Severity,
				Description: truncate(a.Description, alertDescriptionLimit),
			})
		}
	}

	forecast, forecastErr := r.weather.Forecast(ctx, lat, lon)
	if forecastErr != nil {
		r.logger.Warn("forecast unavailable", "latitude", lat, "longitude", lon, "error", forecastErr)
	} else {
		for i, p := range forecast {
			if i >= maxForecastEntries {
				break
			}
			result.Forecast = append(result.Forecast, ForecastEntry{
				Period:      p.Name,
				Temperature: fmt.Sprintf("%d°%s", p.Temperature, p.TemperatureUnit),
				Conditions:  p.ShortForecast,
			})
		}
	}

	if alertsErr != nil && forecastErr != nil {
		return WeatherResult{}, errWeatherUnavailable
	}
	return result, nil
}

// decodeInput converts a raw tool request input into a typed struct.
func decodeInput(raw any, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding tool input: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding tool input: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
