package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/i474232898/flight-weather/internal/airport"
	httpapi "github.com/i474232898/flight-weather/internal/api/http"
	"github.com/i474232898/flight-weather/internal/config"
	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/mqttbroker"
	"github.com/i474232898/flight-weather/internal/notify"
	"github.com/i474232898/flight-weather/internal/scheduler"
	"github.com/i474232898/flight-weather/internal/store"
	"github.com/i474232898/flight-weather/internal/subscription"
	"github.com/i474232898/flight-weather/internal/weather"
	"github.com/i474232898/flight-weather/internal/weather/providers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the update scheduler and the live update broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	log := logger.New(cfg.AppName, cfg.LogLevel)
	defer log.Stop()

	st, err := store.New(ctx, cfg.Store.Driver, cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Providers apply HTTPTimeout per request.
	httpClient := &http.Client{}

	loader := airport.NewLoader(st, &http.Client{Timeout: time.Minute}, cfg.Airport.SourceURL, log)
	if _, err := loader.LoadAsLeader(ctx, cfg.Airport.InstanceIndex, cfg.Airport.LoaderIndex); err != nil {
		// The API still serves whatever the table already holds.
		log.Error(err, map[string]any{"source": cfg.Airport.SourceURL})
	}
	directory := airport.NewDirectory(st)

	provider, err := providers.New(cfg, httpClient)
	if err != nil {
		return err
	}
	service := weather.NewService(directory, provider, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	sinks, brokerErrs, closeSinks, err := openSinks(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	publisher := notify.NewPublisher(st, sinks, log)
	manager := subscription.NewManager(st, sched, publisher.Job, cfg.UpdateDelay, log)

	app := httpapi.NewApp(httpapi.AppConfig{
		AppName:   cfg.AppName,
		AccessLog: true,
	}, httpapi.Handlers{
		Airports:      directory,
		Weather:       service,
		Subscriptions: manager,
	}, log)

	serverErrs := make(chan error, 1)
	go func() {
		serverErrs <- app.Listen(":" + cfg.Port)
	}()
	log.Info("http server started", map[string]any{
		"port":     cfg.Port,
		"provider": provider.Name(),
		"store":    cfg.Store.Driver,
	})

	select {
	case <-ctx.Done():
	case err := <-serverErrs:
		return fmt.Errorf("fiber server stopped: %w", err)
	case err, ok := <-brokerErrs:
		if ok {
			log.Error(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error(err, map[string]any{"stage": "shutdown"})
	}
	log.Info("http server stopped")
	return nil
}

// openSinks sets up the live-update transport and the optional AMQP mirror.
// The returned channel carries fatal errors of the embedded broker and is nil
// when an external broker is used.
func openSinks(cfg *config.AppConfig, log *logger.Logger) ([]notify.Sink, <-chan error, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func()
		errs    <-chan error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Live.Embedded {
		broker := mqttbroker.New(log)
		ch, err := broker.Start(cfg.Live.Bind)
		if err != nil {
			return nil, nil, nil, err
		}
		errs = ch
		closers = append(closers, func() { _ = broker.Stop() })
		sinks = append(sinks, notify.NewBrokerSink(broker))
	} else {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.Live.BrokerURL()).
			SetClientID(cfg.AppName + "-" + uuid.NewString()[:8]).
			SetAutoReconnect(true).
			SetConnectRetry(true).
			SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				log.Warning("mqtt connection lost", map[string]any{"error": err})
			})
		mc := mqtt.NewClient(opts)
		// With ConnectRetry the token only completes once connected; paho keeps
		// retrying in the background if the broker is not up yet.
		if tok := mc.Connect(); tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
			return nil, nil, nil, fmt.Errorf("connect %s: %w", cfg.Live.BrokerURL(), tok.Error())
		}
		closers = append(closers, func() { mc.Disconnect(250) })
		sinks = append(sinks, notify.NewMQTTSink(mc))
	}

	if cfg.AMQP.URL != "" {
		a, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() { _ = a.Close() })
		sinks = append(sinks, a)
	}

	return sinks, errs, closeAll, nil
}
