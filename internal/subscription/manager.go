package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/metrics"
	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/scheduler"
	"github.com/i474232898/flight-weather/internal/store"
)

// Leg is the forecast a client wants to follow for one half of a trip.
type Leg struct {
	AirportID   string
	Date        time.Time
	Temperature float64
}

// Registry schedules and cancels delayed work by key.
type Registry interface {
	Schedule(key string, delay time.Duration, job scheduler.Job) error
	Cancel(key string) bool
	State(key string) scheduler.State
}

// JobFactory builds the update job for a subscription id.
type JobFactory func(id string) scheduler.Job

// Manager persists forecast subscriptions and schedules their simulated update.
type Manager struct {
	store    store.Store
	registry Registry
	jobs     JobFactory
	delay    time.Duration
	log      *logger.Logger
}

func NewManager(s store.Store, registry Registry, jobs JobFactory, delay time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{store: s, registry: registry, jobs: jobs, delay: delay, log: log}
}

// Subscribe upserts the subscriber and creates one subscription per leg in a
// single transaction. Updates are scheduled only after the commit. The
// returned subscriber holds every forecast it owns, not just the new ones.
func (m *Manager) Subscribe(ctx context.Context, subscriberID string, departing, arriving Leg) (model.Subscriber, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return model.Subscriber{}, fmt.Errorf("session id is required: %w", model.ErrValidation)
	}
	if err := validateLeg("departing", departing); err != nil {
		return model.Subscriber{}, err
	}
	if err := validateLeg("arriving", arriving); err != nil {
		return model.Subscriber{}, err
	}

	var created []string
	err := m.store.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.UpsertSubscriber(ctx, subscriberID); err != nil {
			return err
		}
		for _, leg := range []Leg{departing, arriving} {
			if _, err := tx.Airport(ctx, leg.AirportID); err != nil {
				return err
			}
			f := &model.ForecastSubscription{
				SubscriberID: subscriberID,
				AirportID:    leg.AirportID,
				Date:         leg.Date.UTC(),
				Temperature:  leg.Temperature,
			}
			if err := tx.CreateForecast(ctx, f); err != nil {
				return err
			}
			created = append(created, f.ID)
		}
		return nil
	})
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("subscribe %s: %w", subscriberID, err)
	}

	metrics.SubscriptionsCreated.Add(float64(len(created)))

	for _, id := range created {
		if err := m.registry.Schedule(id, m.delay, m.jobs(id)); err != nil {
			// records stay committed
			m.log.Error(err, map[string]any{"subscription_id": id})
		}
	}

	m.log.Info("forecast subscriptions created", map[string]any{
		"subscriber_id": subscriberID,
		"ids":           created,
	})

	return m.store.Subscriber(ctx, subscriberID)
}

// Subscriber returns the subscriber and all of its forecasts.
func (m *Manager) Subscriber(ctx context.Context, id string) (model.Subscriber, error) {
	if strings.TrimSpace(id) == "" {
		return model.Subscriber{}, fmt.Errorf("subscriber id is required: %w", model.ErrNotFound)
	}
	return m.store.Subscriber(ctx, id)
}

// Forecast returns a single forecast subscription.
func (m *Manager) Forecast(ctx context.Context, id string) (model.ForecastSubscription, error) {
	return m.store.Forecast(ctx, id)
}

// Cancel stops the pending update of a subscription. It reports whether an
// update was still pending.
func (m *Manager) Cancel(id string) bool {
	return m.registry.Cancel(id)
}

// State reports the update lifecycle of a subscription.
func (m *Manager) State(id string) scheduler.State {
	return m.registry.State(id)
}

func validateLeg(name string, leg Leg) error {
	if leg.AirportID == "" || leg.Date.IsZero() {
		return fmt.Errorf("%s airport and date are required: %w", name, model.ErrValidation)
	}
	return nil
}
