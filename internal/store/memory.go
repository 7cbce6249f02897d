package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/flight-weather/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = fmt.Errorf("store: %w", model.ErrNotFound)
	// ErrConflict is returned when a create collides with an existing key.
	ErrConflict = fmt.Errorf("store: duplicate key: %w", model.ErrTransaction)
)

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu sync.RWMutex

	airports    map[string]model.Airport
	airportIATA map[string]string // upper-cased IATA -> airport id

	subscribers map[string]model.Subscriber
	forecasts   map[string]model.ForecastSubscription
	// subscriber id -> forecast ids in creation order
	owned map[string][]string

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		airports:    make(map[string]model.Airport),
		airportIATA: make(map[string]string),
		subscribers: make(map[string]model.Subscriber),
		forecasts:   make(map[string]model.ForecastSubscription),
		owned:       make(map[string][]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Close() error { return nil }

// Transaction holds the write lock for the duration of fn and undoes every
// write made through tx if fn fails.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) Airport(ctx context.Context, id string) (model.Airport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.airport(id)
}

func (s *MemoryStore) SearchAirports(ctx context.Context, q AirportQuery) ([]model.Airport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchAirports(q), nil
}

func (s *MemoryStore) CreateAirport(ctx context.Context, a *model.Airport) error {
	return s.Transaction(ctx, func(tx Tx) error { return tx.CreateAirport(ctx, a) })
}

func (s *MemoryStore) UpsertSubscriber(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx Tx) error { return tx.UpsertSubscriber(ctx, id) })
}

func (s *MemoryStore) Subscriber(ctx context.Context, id string) (model.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriber(id)
}

func (s *MemoryStore) CreateForecast(ctx context.Context, f *model.ForecastSubscription) error {
	return s.Transaction(ctx, func(tx Tx) error { return tx.CreateForecast(ctx, f) })
}

func (s *MemoryStore) Forecast(ctx context.Context, id string) (model.ForecastSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forecast(id)
}

func (s *MemoryStore) PatchForecastTemperature(ctx context.Context, id string, temperature float64) error {
	return s.Transaction(ctx, func(tx Tx) error { return tx.PatchForecastTemperature(ctx, id, temperature) })
}

// The helpers below expect s.mu to be held.

func (s *MemoryStore) airport(id string) (model.Airport, error) {
	a, ok := s.airports[id]
	if !ok {
		return model.Airport{}, fmt.Errorf("airport %q: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) searchAirports(q AirportQuery) []model.Airport {
	result := []model.Airport{}
	for _, a := range s.airports {
		if q.SkipEmptyIATA && a.IATA == "" {
			continue
		}
		if q.CountryCode != "" && !strings.EqualFold(a.CountryCode, q.CountryCode) {
			continue
		}
		if q.IATA != "" && !strings.EqualFold(a.IATA, q.IATA) {
			continue
		}
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].IATA == result[j].IATA {
			return result[i].ID < result[j].ID
		}
		return result[i].IATA < result[j].IATA
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result
}

func (s *MemoryStore) subscriber(id string) (model.Subscriber, error) {
	sub, ok := s.subscribers[id]
	if !ok {
		return model.Subscriber{}, fmt.Errorf("subscriber %q: %w", id, ErrNotFound)
	}

	sub.Forecasts = make([]model.ForecastSubscription, 0, len(s.owned[id]))
	for _, fid := range s.owned[id] {
		f, err := s.forecast(fid)
		if err != nil {
			return model.Subscriber{}, err
		}
		sub.Forecasts = append(sub.Forecasts, f)
	}
	return sub, nil
}

func (s *MemoryStore) forecast(id string) (model.ForecastSubscription, error) {
	f, ok := s.forecasts[id]
	if !ok {
		return model.ForecastSubscription{}, fmt.Errorf("forecast subscription %q: %w", id, ErrNotFound)
	}
	if a, ok := s.airports[f.AirportID]; ok {
		f.Airport = &a
	}
	return f, nil
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) Airport(ctx context.Context, id string) (model.Airport, error) {
	return t.s.airport(id)
}

func (t *memTx) SearchAirports(ctx context.Context, q AirportQuery) ([]model.Airport, error) {
	return t.s.searchAirports(q), nil
}

func (t *memTx) CreateAirport(ctx context.Context, a *model.Airport) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if _, exists := t.s.airports[a.ID]; exists {
		return fmt.Errorf("airport %q: %w", a.ID, ErrConflict)
	}
	code := strings.ToUpper(a.IATA)
	if code != "" {
		if _, exists := t.s.airportIATA[code]; exists {
			return fmt.Errorf("airport iata %q: %w", a.IATA, ErrConflict)
		}
		t.s.airportIATA[code] = a.ID
	}
	t.s.airports[a.ID] = *a

	id := a.ID
	t.undo = append(t.undo, func() {
		delete(t.s.airports, id)
		if code != "" {
			delete(t.s.airportIATA, code)
		}
	})
	return nil
}

func (t *memTx) UpsertSubscriber(ctx context.Context, id string) error {
	if _, exists := t.s.subscribers[id]; exists {
		return nil
	}
	t.s.subscribers[id] = model.Subscriber{ID: id, CreatedAt: t.s.now()}
	t.undo = append(t.undo, func() { delete(t.s.subscribers, id) })
	return nil
}

func (t *memTx) Subscriber(ctx context.Context, id string) (model.Subscriber, error) {
	return t.s.subscriber(id)
}

func (t *memTx) CreateForecast(ctx context.Context, f *model.ForecastSubscription) error {
	if _, ok := t.s.subscribers[f.SubscriberID]; !ok {
		return fmt.Errorf("subscriber %q: %w", f.SubscriberID, ErrNotFound)
	}
	if f.ID == "" {
		f.ID = newID()
	}
	if _, exists := t.s.forecasts[f.ID]; exists {
		return fmt.Errorf("forecast subscription %q: %w", f.ID, ErrConflict)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = t.s.now()
	}

	stored := *f
	stored.Airport = nil
	t.s.forecasts[f.ID] = stored

	owner := f.SubscriberID
	prev := t.s.owned[owner]
	t.s.owned[owner] = append(prev[:len(prev):len(prev)], f.ID)

	id := f.ID
	t.undo = append(t.undo, func() {
		delete(t.s.forecasts, id)
		if len(prev) == 0 {
			delete(t.s.owned, owner)
			return
		}
		t.s.owned[owner] = prev
	})
	return nil
}

func (t *memTx) Forecast(ctx context.Context, id string) (model.ForecastSubscription, error) {
	return t.s.forecast(id)
}

func (t *memTx) PatchForecastTemperature(ctx context.Context, id string, temperature float64) error {
	f, ok := t.s.forecasts[id]
	if !ok {
		return fmt.Errorf("forecast subscription %q: %w", id, ErrNotFound)
	}
	previous := f.Temperature
	f.Temperature = temperature
	t.s.forecasts[id] = f

	t.undo = append(t.undo, func() {
		f.Temperature = previous
		t.s.forecasts[id] = f
	})
	return nil
}
