package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/metrics"
	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/scheduler"
	"github.com/i474232898/flight-weather/internal/store"
)

// Publisher applies the simulated temperature update to a subscription and
// pushes the result to every sink.
type Publisher struct {
	store   store.Store
	sinks   []Sink
	log     *logger.Logger
	perturb func() float64
	newID   func() string
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithPerturbation replaces the random {-1, 0, 1} temperature delta.
func WithPerturbation(fn func() float64) Option {
	return func(p *Publisher) { p.perturb = fn }
}

// WithMessageIDs replaces the uuid message id source.
func WithMessageIDs(fn func() string) Option {
	return func(p *Publisher) { p.newID = fn }
}

func NewPublisher(s store.Store, sinks []Sink, log *logger.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	p := &Publisher{
		store:   s,
		sinks:   sinks,
		log:     log,
		perturb: func() float64 { return float64(rand.Intn(3) - 1) },
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Fire perturbs the stored temperature of subscription id inside one
// transaction, then tags and publishes the updated record. A failed
// transaction publishes nothing.
func (p *Publisher) Fire(ctx context.Context, id string) (model.UpdateMessage, error) {
	var updated model.ForecastSubscription

	err := p.store.Transaction(ctx, func(tx store.Tx) error {
		f, err := tx.Forecast(ctx, id)
		if err != nil {
			return err
		}
		f.Temperature += p.perturb()
		if err := tx.PatchForecastTemperature(ctx, id, f.Temperature); err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return model.UpdateMessage{}, fmt.Errorf("update forecast subscription %s: %w", id, err)
	}

	msg := Tag(updated, p.newID())
	return msg, p.Publish(ctx, msg)
}

// Publish hands msg to every sink. A failing sink does not stop the others.
func (p *Publisher) Publish(ctx context.Context, msg model.UpdateMessage) error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Publish(ctx, msg); err != nil {
			metrics.UpdatesPublished.WithLabelValues(s.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.UpdatesPublished.WithLabelValues(s.Name(), "success").Inc()
		p.log.Debug("update published", map[string]any{
			"sink":       s.Name(),
			"topic":      msg.Topic(),
			"message_id": msg.MessageID,
		})
	}
	return errors.Join(errs...)
}

// Job returns the scheduled work for subscription id. Errors are logged and
// dropped.
func (p *Publisher) Job(id string) scheduler.Job {
	return func(ctx context.Context) {
		msg, err := p.Fire(ctx, id)
		if err != nil {
			metrics.UpdateJobFailures.Inc()
			p.log.Error(err, map[string]any{"subscription_id": id})
			return
		}
		p.log.Info("forecast update sent", map[string]any{
			"subscription_id": id,
			"temperature":     msg.Temperature,
			"message_id":      msg.MessageID,
		})
	}
}
