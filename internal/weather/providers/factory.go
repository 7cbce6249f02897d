package providers

import (
	"fmt"
	"net/http"

	"github.com/i474232898/flight-weather/internal/config"
	"github.com/i474232898/flight-weather/internal/weather"
)

// New returns the provider selected by cfg.Weather.Provider.
func New(cfg *config.AppConfig, client *http.Client) (weather.Provider, error) {
	if client == nil {
		client = http.DefaultClient
	}
	httpCfg := HTTPClientConfig{Client: client, Timeout: cfg.HTTPTimeout}

	switch cfg.Weather.Provider {
	case "openweather":
		return NewOpenWeatherProvider(httpCfg, cfg.Weather.APIKey, cfg.Weather.BaseURL), nil
	case "weatherapi":
		return NewWeatherAPIProvider(httpCfg, cfg.Weather.APIKey, cfg.Weather.BaseURL), nil
	case "openmeteo":
		return NewOpenMeteoProvider(httpCfg, cfg.Weather.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", cfg.Weather.Provider)
	}
}
