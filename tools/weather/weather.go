// Package weather provides a current-conditions tool backed by the
// Open-Meteo API (no API key required).
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mfadhil/agentos"
)

// Tool reports current weather for a named city.
type Tool struct {
	client      *http.Client
	geocodeURL  string
	forecastURL string
}

// Option configures a weather Tool.
type Option func(*Tool)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithEndpoints overrides the geocoding and forecast API bases. Used in tests.
func WithEndpoints(geocodeURL, forecastURL string) Option {
	return func(t *Tool) {
		t.geocodeURL = geocodeURL
		t.forecastURL = forecastURL
	}
}

// New creates a weather tool with a 10-second timeout.
func New(opts ...Option) *Tool {
	t := &Tool{
		client:      &http.Client{Timeout: 10 * time.Second},
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definitions() []agentos.ToolDefinition {
	return []agentos.ToolDefinition{{
		Name:        "get_weather",
		Description: "Get current weather conditions for a city: temperature, wind speed, and a short description.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string","description":"City name, e.g. \"Jakarta\""}},"required":["city"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (agentos.ToolResult, error) {
	var params struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return agentos.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.City == "" {
		return agentos.ToolResult{Error: "city is required"}, nil
	}

	report, err := t.Current(ctx, params.City)
	if err != nil {
		return agentos.ToolResult{Error: err.Error()}, nil
	}

	content, err := json.Marshal(report)
	if err != nil {
		return agentos.ToolResult{Error: "encode report: " + err.Error()}, nil
	}
	return agentos.ToolResult{Content: string(content)}, nil
}

// Report is the structured weather result.
type Report struct {
	City        string  `json:"city"`
	Country     string  `json:"country,omitempty"`
	Temperature float64 `json:"temperature_c"`
	WindSpeed   float64 `json:"wind_speed_kmh"`
	Conditions  string  `json:"conditions"`
}

// Current geocodes the city and fetches its current conditions.
func (t *Tool) Current(ctx context.Context, city string) (Report, error) {
	lat, lon, country, err := t.geocode(ctx, city)
	if err != nil {
		return Report{}, err
	}

	u := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current_weather=true", t.forecastURL, lat, lon)
	var data struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := t.getJSON(ctx, u, &data); err != nil {
		return Report{}, err
	}

	return Report{
		City:        city,
		Country:     country,
		Temperature: data.CurrentWeather.Temperature,
		WindSpeed:   data.CurrentWeather.WindSpeed,
		Conditions:  describeWeatherCode(data.CurrentWeather.WeatherCode),
	}, nil
}

func (t *Tool) geocode(ctx context.Context, city string) (lat, lon float64, country string, err error) {
	u := fmt.Sprintf("%s?name=%s&count=1", t.geocodeURL, url.QueryEscape(city))
	var data struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Country   string  `json:"country"`
		} `json:"results"`
	}
	if err := t.getJSON(ctx, u, &data); err != nil {
		return 0, 0, "", err
	}
	if len(data.Results) == 0 {
		return 0, 0, "", fmt.Errorf("no location found for %q", city)
	}
	r := data.Results[0]
	return r.Latitude, r.Longitude, r.Country, nil
}

func (t *Tool) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("weather API error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("weather API HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("weather API parse error: %w", err)
	}
	return nil
}

// describeWeatherCode maps WMO weather codes to short descriptions.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}

var _ agentos.Tool = (*Tool)(nil)
