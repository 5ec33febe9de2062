package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/polarops/snowdesk/internal/knowledge"
	"github.com/polarops/snowdesk/internal/log"
	"github.com/polarops/snowdesk/internal/weather"
)

type fakeSearcher struct {
	matches   []knowledge.Match
	err       error
	lastQuery string
	lastK     int
}

func (s *fakeSearcher) Search(ctx context.Context, query string, k int) ([]knowledge.Match, error) {
	s.lastQuery = query
	s.lastK = k
	return s.matches, s.err
}

type fakeWeather struct {
	alerts      []weather.Alert
	forecast    []weather.ForecastPeriod
	alertsErr   error
	forecastErr error
	lastArea    string
	lastLat     float64
	lastLon     float64
}

func (w *fakeWeather) Alerts(ctx context.Context, area string) ([]weather.Alert, error) {
	w.lastArea = area
	return w.alerts, w.alertsErr
}

func (w *fakeWeather) Forecast(ctx context.Context, lat, lon float64) ([]weather.ForecastPeriod, error) {
	w.lastLat, w.lastLon = lat, lon
	return w.forecast, w.forecastErr
}

func newTestRegistry(t *testing.T, s FAQSearcher, w WeatherSource) *Registry {
	t.Helper()
	r, err := NewRegistry(Config{
		Searcher:         s,
		Weather:          w,
		Logger:           log.NewNop(),
		TopK:             3,
		DefaultArea:      "AK",
		DefaultLatitude:  61.2181,
		DefaultLongitude: -149.9003,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistry_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing searcher", Config{Weather: &fakeWeather{}, Logger: log.NewNop()}},
		{"missing weather", Config{Searcher: &fakeSearcher{}, Logger: log.NewNop()}},
		{"missing logger", Config{Searcher: &fakeSearcher{}, Weather: &fakeWeather{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewRegistry(tt.cfg); err == nil {
				t.Error("NewRegistry() expected error, got nil")
			}
		})
	}
}

func TestRegistry_SearchFAQs(t *testing.T) {
	t.Parallel()

	t.Run("formats matches", func(t *testing.T) {
		t.Parallel()
		searcher := &fakeSearcher{matches: []knowledge.Match{
			{FAQ: knowledge.FAQ{Question: "When are roads plowed?", Answer: "Priority routes first."}, Similarity: 0.912},
			{FAQ: knowledge.FAQ{Question: "Who clears sidewalks?", Answer: "Sidewalk crews."}, Similarity: 0.74},
		}}
		r := newTestRegistry(t, searcher, &fakeWeather{})

		result := r.searchFAQs(context.Background(), FAQSearchInput{Query: "plowing"})
		if !result.Found {
			t.Error("Found = false, want true")
		}
		if result.Count != 2 {
			t.Errorf("Count = %d, want 2", result.Count)
		}
		if result.FAQs[0].Relevance != "0.91" {
			t.Errorf("Relevance = %q, want %q", result.FAQs[0].Relevance, "0.91")
		}
		if searcher.lastK != 3 {
			t.Errorf("search k = %d, want 3", searcher.lastK)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		t.Parallel()
		r := newTestRegistry(t, &fakeSearcher{}, &fakeWeather{})

		result := r.searchFAQs(context.Background(), FAQSearchInput{Query: "unrelated"})
		if result.Found {
			t.Error("Found = true, want false")
		}
		if result.Count != 0 {
			t.Errorf("Count = %d, want 0", result.Count)
		}
		if result.FAQs == nil {
			t.Error("FAQs should be an empty slice, not nil")
		}
	})

	t.Run("backend failure degrades with note", func(t *testing.T) {
		t.Parallel()
		searcher := &fakeSearcher{err: errors.New("backend down")}
		r := newTestRegistry(t, searcher, &fakeWeather{})

		result := r.searchFAQs(context.Background(), FAQSearchInput{Query: "plowing"})
		if result.Found {
			t.Error("Found = true, want false on backend failure")
		}
		if result.Note == "" {
			t.Error("Note should explain the degradation")
		}
	})
}

func TestRegistry_GetWeather(t *testing.T) {
	t.Parallel()

	t.Run("combines alerts and forecast", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{
			alerts: []weather.Alert{
				{Event: "Winter Storm Warning", Severity: "Severe", Description: "Heavy snow expected."},
			},
			forecast: []weather.ForecastPeriod{
				{Name: "Tonight", Temperature: 10, TemperatureUnit: "F", ShortForecast: "Snow"},
			},
		}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		result, err := r.getWeather(context.Background(), WeatherInput{})
		if err != nil {
			t.Fatalf("getWeather() error = %v", err)
		}
		if len(result.Alerts) != 1 || result.Alerts[0].Event != "Winter Storm Warning" {
			t.Errorf("Alerts = %+v, want one Winter Storm Warning", result.Alerts)
		}
		if len(result.Forecast) != 1 {
			t.Fatalf("Forecast entries = %d, want 1", len(result.Forecast))
		}
		if result.Forecast[0].Temperature != "10°F" {
			t.Errorf("Temperature = %q, want %q", result.Forecast[0].Temperature, "10°F")
		}
		if w.lastArea != "AK" {
			t.Errorf("alerts area = %q, want AK", w.lastArea)
		}
	})

	t.Run("defaults coordinates when omitted", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		_, _ = r.getWeather(context.Background(), WeatherInput{})
		if w.lastLat != 61.2181 || w.lastLon != -149.9003 {
			t.Errorf("coordinates = (%v, %v), want Anchorage defaults", w.lastLat, w.lastLon)
		}
	})

	t.Run("honors explicit coordinates", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		lat, lon := 64.8378, -147.7164
		_, _ = r.getWeather(context.Background(), WeatherInput{Latitude: &lat, Longitude: &lon})
		if w.lastLat != lat || w.lastLon != lon {
			t.Errorf("coordinates = (%v, %v), want (%v, %v)", w.lastLat, w.lastLon, lat, lon)
		}
	})

	t.Run("caps entries and truncates descriptions", func(t *testing.T) {
		t.Parallel()
		long := make([]byte, 300)
		for i := range long {
			long[i] = 'x'
		}
		w := &fakeWeather{
			alerts: []weather.Alert{
				{Event: "a1", Description: string(long)},
				{Event: "a2"}, {Event: "a3"}, {Event: "a4"},
			},
			forecast: []weather.ForecastPeriod{
				{Name: "p1"}, {Name: "p2"}, {Name: "p3"}, {Name: "p4"},
			},
		}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		result, err := r.getWeather(context.Background(), WeatherInput{})
		if err != nil {
			t.Fatalf("getWeather() error = %v", err)
		}
		if len(result.Alerts) != maxAlertEntries {
			t.Errorf("Alerts = %d entries, want %d", len(result.Alerts), maxAlertEntries)
		}
		if len(result.Forecast) != maxForecastEntries {
			t.Errorf("Forecast = %d entries, want %d", len(result.Forecast), maxForecastEntries)
		}
		if len(result.Alerts[0].Description) != alertDescriptionLimit {
			t.Errorf("description length = %d, want %d", len(result.Alerts[0].Description), alertDescriptionLimit)
		}
	})

	t.Run("one source failing keeps the other", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{
			alertsErr: errors.New("alerts down"),
			forecast: []weather.ForecastPeriod{
				{Name: "Tonight", Temperature: -5, TemperatureUnit: "F", ShortForecast: "Clear"},
			},
		}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		result, err := r.getWeather(context.Background(), WeatherInput{})
		if err != nil {
			t.Fatalf("getWeather() error = %v", err)
		}
		if len(result.Alerts) != 0 {
			t.Errorf("Alerts = %d entries, want 0", len(result.Alerts))
		}
		if len(result.Forecast) != 1 {
			t.Errorf("Forecast = %d entries, want 1", len(result.Forecast))
		}
	})

	t.Run("both sources failing returns an error", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{
			alertsErr:   errors.New("alerts down"),
			forecastErr: errors.New("forecast down"),
		}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		_, err := r.getWeather(context.Background(), WeatherInput{})
		if !errors.Is(err, errWeatherUnavailable) {
			t.Fatalf("getWeather() error = %v, want errWeatherUnavailable", err)
		}
	})
}

func TestRegistry_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("routes faq search with correlated ref", func(t *testing.T) {
		t.Parallel()
		searcher := &fakeSearcher{matches: []knowledge.Match{
			{FAQ: knowledge.FAQ{Question: "q", Answer: "a"}, Similarity: 0.9},
		}}
		r := newTestRegistry(t, searcher, &fakeWeather{})

		part := r.Dispatch(context.Background(), &ai.ToolRequest{
			Name:  SearchFAQsName,
			Ref:   "call-7",
			Input: map[string]any{"query": "plow schedule"},
		})
		if part.ToolResponse == nil {
			t.Fatal("Dispatch() did not return a tool response part")
		}
		if part.ToolResponse.Ref != "call-7" {
			t.Errorf("Ref = %q, want call-7", part.ToolResponse.Ref)
		}
		if part.ToolResponse.Name != SearchFAQsName {
			t.Errorf("Name = %q, want %q", part.ToolResponse.Name, SearchFAQsName)
		}
		if searcher.lastQuery != "plow schedule" {
			t.Errorf("search query = %q, want %q", searcher.lastQuery, "plow schedule")
		}
		result, ok := part.ToolResponse.Output.(FAQResult)
		if !ok {
			t.Fatalf("Output type = %T, want FAQResult", part.ToolResponse.Output)
		}
		if !result.Found {
			t.Error("Found = false, want true")
		}
	})

	t.Run("routes weather with typed coordinates", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		part := r.Dispatch(context.Background(), &ai.ToolRequest{
			Name:  GetWeatherName,
			Ref:   "call-2",
			Input: map[string]any{"latitude": 64.8378, "longitude": -147.7164},
		})
		if _, ok := part.ToolResponse.Output.(WeatherResult); !ok {
			t.Fatalf("Output type = %T, want WeatherResult", part.ToolResponse.Output)
		}
		if w.lastLat != 64.8378 {
			t.Errorf("latitude = %v, want 64.8378", w.lastLat)
		}
	})

	t.Run("weather outage returns error payload", func(t *testing.T) {
		t.Parallel()
		w := &fakeWeather{
			alertsErr:   errors.New("alerts down"),
			forecastErr: errors.New("forecast down"),
		}
		r := newTestRegistry(t, &fakeSearcher{}, w)

		part := r.Dispatch(context.Background(), &ai.ToolRequest{
			Name: GetWeatherName,
			Ref:  "call-4",
		})
		payload, ok := part.ToolResponse.Output.(errorPayload)
		if !ok {
			t.Fatalf("Output type = %T, want errorPayload", part.ToolResponse.Output)
		}
		if payload.Error != "weather service unavailable" {
			t.Errorf("Error = %q, want %q", payload.Error, "weather service unavailable")
		}
		if part.ToolResponse.Ref != "call-4" {
			t.Errorf("Ref = %q, want call-4", part.ToolResponse.Ref)
		}
	})

	t.Run("unknown tool returns error payload", func(t *testing.T) {
		t.Parallel()
		r := newTestRegistry(t, &fakeSearcher{}, &fakeWeather{})

		part := r.Dispatch(context.Background(), &ai.ToolRequest{Name: "delete_everything", Ref: "call-9"})
		payload, ok := part.ToolResponse.Output.(errorPayload)
		if !ok {
			t.Fatalf("Output type = %T, want errorPayload", part.ToolResponse.Output)
		}
		want := "unknown tool: delete_everything"
		if payload.Error != want {
			t.Errorf("Error = %q, want %q", payload.Error, want)
		}
		if part.ToolResponse.Ref != "call-9" {
			t.Errorf("Ref = %q, want call-9", part.ToolResponse.Ref)
		}
	})
}
