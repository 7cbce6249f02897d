package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/flight-weather/internal/client"
	"github.com/i474232898/flight-weather/internal/live"
	"github.com/i474232898/flight-weather/internal/model"
)

var airportsCmd = &cobra.Command{
	Use:     "airports [country-code]",
	Short:   "List the airports of a country",
	Example: "airports US",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		airports, err := apiClient().Airports(cmd.Context(), strings.ToUpper(args[0]))
		if err != nil {
			return err
		}
		for _, a := range airports {
			fmt.Printf("%s\t%s\t%s\n", a.IATA, a.ID, a.Name)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Get the forecast for both ends of a trip",
	Long: `Get the forecast for the departure and arrival of a trip.
--from and --to take an airport id or IATA code.
--depart and --arrive take RFC3339 or "2006-01-02T15:04" (UTC) times.
With --subscribe the trip is followed and live updates are pushed to this session.`,
	Example: "check --from SFO --to JFK --depart 2026-06-02T08:00 --arrive 2026-06-02T16:30 --subscribe",
	RunE:    runCheck,
}

var subscriberCmd = &cobra.Command{
	Use:   "subscriber [id]",
	Short: "Show a subscriber and its forecasts (defaults to this session)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := subscriberID(args)
		if err != nil {
			return err
		}
		sub, err := apiClient().Subscriber(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(sub)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [id]",
	Short: "Print live temperature updates for a subscriber's forecasts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	checkCmd.Flags().String("from", "", "Departing airport id or IATA code")
	checkCmd.Flags().String("to", "", "Arriving airport id or IATA code")
	checkCmd.Flags().String("depart", "", "Departure time")
	checkCmd.Flags().String("arrive", "", "Arrival time")
	checkCmd.Flags().Bool("subscribe", false, "Subscribe this session to the result")
	_ = checkCmd.MarkFlagRequired("from")
	_ = checkCmd.MarkFlagRequired("to")
	_ = checkCmd.MarkFlagRequired("depart")
	_ = checkCmd.MarkFlagRequired("arrive")

	watchCmd.Flags().String("broker", envOr("LIVE_BROKER_URL", "tcp://localhost:1883"), "MQTT broker URL")
	watchCmd.Flags().Duration("refresh", 30*time.Second, "How often to look for new forecasts to follow (0 disables)")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	departFlag, _ := cmd.Flags().GetString("depart")
	arriveFlag, _ := cmd.Flags().GetString("arrive")
	subscribe, _ := cmd.Flags().GetBool("subscribe")

	depart, err := parseTime(departFlag)
	if err != nil {
		return fmt.Errorf("--depart: %w", err)
	}
	arrive, err := parseTime(arriveFlag)
	if err != nil {
		return fmt.Errorf("--arrive: %w", err)
	}

	c := apiClient()
	fromID, err := resolveAirport(ctx, c, from)
	if err != nil {
		return err
	}
	toID, err := resolveAirport(ctx, c, to)
	if err != nil {
		return err
	}

	trip, err := c.Check(ctx, fromID, depart, toID, arrive)
	if err != nil {
		return err
	}
	if err := printJSON(trip); err != nil {
		return err
	}
	if !subscribe {
		return nil
	}

	session, err := client.LoadSession(sessionFile)
	if err != nil {
		return err
	}
	sub, err := c.Subscribe(ctx, session, trip)
	if err != nil {
		return err
	}
	log.Info("subscribed to forecast updates", map[string]any{
		"subscriber_id": sub.ID,
		"forecasts":     len(sub.Forecasts),
	})
	return printJSON(sub)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	broker, _ := cmd.Flags().GetString("broker")
	refresh, _ := cmd.Flags().GetDuration("refresh")

	id, err := subscriberID(args)
	if err != nil {
		return err
	}

	watcher, err := live.Connect(live.Options{
		BrokerURL: broker,
		ClientID:  "flight-weather-watch-" + id,
		Log:       log,
		OnUpdate: func(m model.UpdateMessage) {
			fmt.Printf("%s\t%s\t%s\t%.1f\n", m.ReceivedAt.Format(time.RFC3339), m.AirportID, m.Date.Format(time.RFC3339), m.Temperature)
		},
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	c := apiClient()
	follow := func() error {
		sub, err := c.Subscriber(ctx, id)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(sub.Forecasts))
		for _, f := range sub.Forecasts {
			ids = append(ids, f.ID)
		}
		added, err := watcher.Watch(ids...)
		if len(added) > 0 {
			log.Info("watching forecast topics", map[string]any{"added": added})
		}
		return err
	}

	if err := follow(); err != nil && !client.IsNotFound(err) {
		return err
	}
	if refresh <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := follow(); err != nil && !client.IsNotFound(err) {
				log.Warning("refreshing subscriber failed", map[string]any{"error": err})
			}
		}
	}
}

func subscriberID(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return client.LoadSession(sessionFile)
}

// resolveAirport turns an IATA code into an airport id. Anything that does
// not match a code is used as an id.
func resolveAirport(ctx context.Context, c *client.Client, v string) (string, error) {
	if len(v) != 3 {
		return v, nil
	}
	airports, err := c.AirportByIATA(ctx, v)
	if err != nil && !client.IsNotFound(err) {
		return "", err
	}
	if len(airports) == 0 {
		return v, nil
	}
	return airports[0].ID, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
