package weather

import (
	"context"

	"github.com/i474232898/flight-weather/internal/model"
)

// Provider abstracts a forecast source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
// Temperatures are in degrees Fahrenheit.
type Provider interface {
	Name() string
	Forecast(ctx context.Context, airport model.Airport) (Series, error)
}

// AirportSource resolves airport ids to coordinates.
type AirportSource interface {
	Airport(ctx context.Context, id string) (model.Airport, error)
}
