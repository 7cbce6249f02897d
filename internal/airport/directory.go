package airport

import (
	"context"
	"fmt"
	"strings"

	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/store"
)

// Directory answers read-only airport queries.
type Directory struct {
	store store.Store
}

func NewDirectory(s store.Store) *Directory {
	return &Directory{store: s}
}

// ListByCountry returns the airports of a country that have an IATA code,
// sorted ascending by IATA.
func (d *Directory) ListByCountry(ctx context.Context, countryCode string) ([]model.Airport, error) {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		return nil, fmt.Errorf("country_code is required: %w", model.ErrNotFound)
	}
	return d.store.SearchAirports(ctx, store.AirportQuery{
		CountryCode:   countryCode,
		SkipEmptyIATA: true,
	})
}

// ByIATA returns the airports matching code, case-insensitively. The result
// is empty when nothing matches.
func (d *Directory) ByIATA(ctx context.Context, code string) ([]model.Airport, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("iata is required: %w", model.ErrNotFound)
	}
	return d.store.SearchAirports(ctx, store.AirportQuery{IATA: code})
}

// Airport resolves an airport by id.
func (d *Directory) Airport(ctx context.Context, id string) (model.Airport, error) {
	return d.store.Airport(ctx, id)
}
