package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForecastLookups counts provider lookups by provider and status (ok, not_found, upstream_error)
	ForecastLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_weather_forecast_lookups_total",
		Help: "Total number of forecast lookups against the weather provider",
	}, []string{"provider", "status"})

	// ForecastLookupDuration measures the provider round trip
	ForecastLookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flight_weather_forecast_lookup_duration_seconds",
		Help:    "Duration of weather provider forecast calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// SubscriptionsCreated counts forecast subscription records, two per subscribe call
	SubscriptionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_weather_subscriptions_created_total",
		Help: "Total number of forecast subscriptions created",
	})

	// UpdatesPending is the number of scheduled simulated updates that have not fired yet
	UpdatesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flight_weather_updates_pending",
		Help: "Current number of scheduled forecast updates waiting to fire",
	})

	// UpdatesPublished counts update messages handed to each sink
	UpdatesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_weather_updates_published_total",
		Help: "Total number of forecast update messages published",
	}, []string{"sink", "status"}) // status: success, error

	// UpdateJobFailures counts update jobs dropped before publishing
	UpdateJobFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_weather_update_job_failures_total",
		Help: "Total number of simulated update jobs that failed and were dropped",
	})

	// AirportsLoaded is the number of airports inserted by the last population run
	AirportsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flight_weather_airports_loaded",
		Help: "Number of airports inserted by the last population run",
	})
)
