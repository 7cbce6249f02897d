package store

import (
	"context"
	"fmt"

	"github.com/i474232898/flight-weather/internal/model"
)

// AirportQuery filters the airport table. Results are always sorted by IATA code.
type AirportQuery struct {
	CountryCode string
	IATA        string
	// SkipEmptyIATA drops rows without an IATA code.
	SkipEmptyIATA bool
	// Limit <= 0 means unlimited.
	Limit int
}

// Tx is the set of operations available both inside and outside a transaction.
type Tx interface {
	Airport(ctx context.Context, id string) (model.Airport, error)
	SearchAirports(ctx context.Context, q AirportQuery) ([]model.Airport, error)
	CreateAirport(ctx context.Context, a *model.Airport) error

	// UpsertSubscriber creates the subscriber if absent and is a no-op otherwise.
	UpsertSubscriber(ctx context.Context, id string) error
	// Subscriber returns the subscriber with its forecasts in creation order
	// and their airports resolved.
	Subscriber(ctx context.Context, id string) (model.Subscriber, error)

	CreateForecast(ctx context.Context, f *model.ForecastSubscription) error
	Forecast(ctx context.Context, id string) (model.ForecastSubscription, error)
	PatchForecastTemperature(ctx context.Context, id string, temperature float64) error
}

// Store is the persistence contract the services depend on.
type Store interface {
	Tx
	// Transaction runs fn atomically: either every write in fn becomes
	// visible or none does.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// New opens the backend named by driver ("memory" or "sqlite").
func New(ctx context.Context, driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
