package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/weather"
)

const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteoProvider implements weather.Provider with the Open-Meteo hourly
// forecast. No API key is needed.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(cfg HTTPClientConfig, baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com"
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: baseURL,
		httpCfg: cfg,
		circuit: newCircuitBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Forecast(ctx context.Context, airport model.Airport) (weather.Series, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", airport.Latitude))
		values.Set("longitude", fmt.Sprintf("%f", airport.Longitude))
		values.Set("hourly", "temperature_2m")
		values.Set("temperature_unit", "fahrenheit")
		values.Set("timezone", "UTC")
		values.Set("forecast_days", "16")

		u := fmt.Sprintf("%s?%s", joinURL(p.baseURL, "/v1/forecast"), values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	var payload struct {
		Hourly struct {
			Time          []string  `json:"time"`
			Temperature2m []float64 `json:"temperature_2m"`
		} `json:"hourly"`
	}

	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return nil, err
	}

	n := len(payload.Hourly.Time)
	if len(payload.Hourly.Temperature2m) < n {
		n = len(payload.Hourly.Temperature2m)
	}

	series := make(weather.Series, 0, n)
	for i := 0; i < n; i++ {
		ts, err := time.ParseInLocation(openMeteoTimeLayout, payload.Hourly.Time[i], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("openmeteo: parse time %q: %w", payload.Hourly.Time[i], err)
		}
		series = append(series, weather.Entry{
			Time:        ts,
			Temperature: payload.Hourly.Temperature2m[i],
		})
	}
	return series, nil
}
