package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/metrics"
	"github.com/i474232898/flight-weather/internal/model"
)

// Service resolves airports and asks the provider for the forecast entry
// nearest to a requested time.
type Service struct {
	airports AirportSource
	provider Provider
	log      *logger.Logger
}

// NewService creates a new Service.
func NewService(airports AirportSource, provider Provider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		airports: airports,
		provider: provider,
		log:      log,
	}
}

// Lookup makes exactly one provider call. The result carries the resolved
// entry time, not the requested one.
func (s *Service) Lookup(ctx context.Context, airportID string, target time.Time) (model.ForecastResult, error) {
	if airportID == "" || target.IsZero() {
		return model.ForecastResult{}, fmt.Errorf("airport and date are required: %w", model.ErrNotFound)
	}

	airport, err := s.airports.Airport(ctx, airportID)
	if err != nil {
		s.observe("not_found")
		return model.ForecastResult{}, fmt.Errorf("lookup airport: %w", err)
	}

	s.log.Debug("forecast lookup", map[string]any{
		"provider": s.provider.Name(),
		"airport":  airport.IATA,
		"target":   target.UTC(),
	})

	start := time.Now()
	series, err := s.provider.Forecast(ctx, airport)
	metrics.ForecastLookupDuration.WithLabelValues(s.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.observe("upstream_error")
		s.log.Error(err, map[string]any{"provider": s.provider.Name(), "airport": airport.IATA})
		if errors.Is(err, model.ErrUpstream) {
			return model.ForecastResult{}, err
		}
		return model.ForecastResult{}, fmt.Errorf("%s: %w: %w", s.provider.Name(), model.ErrUpstream, err)
	}

	i := Nearest(series, target)
	if i < 0 {
		s.observe("upstream_error")
		return model.ForecastResult{}, fmt.Errorf("%s returned no forecast entries: %w", s.provider.Name(), model.ErrUpstream)
	}

	s.observe("ok")
	return model.ForecastResult{
		Airport:     airport,
		Date:        series[i].Time,
		Temperature: series[i].Temperature,
	}, nil
}

// Check looks up both legs concurrently. Either leg failing fails the
// whole check.
func (s *Service) Check(ctx context.Context, departingID string, departing time.Time, arrivingID string, arriving time.Time) (model.TravelWeather, error) {
	if !departing.IsZero() && !arriving.IsZero() && !departing.Before(arriving) {
		return model.TravelWeather{}, fmt.Errorf("departing date must be before arriving date: %w", model.ErrValidation)
	}

	var result model.TravelWeather
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := s.Lookup(gctx, departingID, departing)
		if err != nil {
			return fmt.Errorf("departing: %w", err)
		}
		result.Departing = r
		return nil
	})
	g.Go(func() error {
		r, err := s.Lookup(gctx, arrivingID, arriving)
		if err != nil {
			return fmt.Errorf("arriving: %w", err)
		}
		result.Arriving = r
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.TravelWeather{}, err
	}
	return result, nil
}

func (s *Service) observe(status string) {
	metrics.ForecastLookups.WithLabelValues(s.provider.Name(), status).Inc()
}
