package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/i474232898/flight-weather/internal/client"
	"github.com/i474232898/flight-weather/internal/logger"
)

var (
	debugFlag   bool
	serverURL   string
	sessionFile string
	log         *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "flight-weather",
	Short:         "Flight weather forecasts with live temperature updates",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if debugFlag {
			level = "debug"
		}
		log = logger.New("flight-weather-cli", level, os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("FLIGHT_WEATHER_SERVER", "http://localhost:8080"), "Base URL of the flight-weather API")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session-file", client.DefaultSessionPath(), "File holding this client's session id")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(airportsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(subscriberCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func apiClient() *client.Client {
	return client.New(serverURL, nil)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
