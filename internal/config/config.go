package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	AppName  string `yaml:"app_name" envconfig:"APP_NAME" default:"flight-weather"`
	Port     string `yaml:"port" envconfig:"PORT" default:"8080"`
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" default:"info"`

	// HTTPTimeout bounds every outbound weather provider call.
	HTTPTimeout time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" default:"10s"`

	Weather WeatherConfig `yaml:"weather"`

	// UpdateDelay is how long after subscribing the simulated update fires.
	UpdateDelay time.Duration `yaml:"update_delay" envconfig:"UPDATE_DELAY" default:"15s"`

	Store   StoreConfig   `yaml:"store"`
	Airport AirportConfig `yaml:"airport"`
	Live    LiveConfig    `yaml:"live"`
	AMQP    AMQPConfig    `yaml:"amqp"`
}

type WeatherConfig struct {
	Provider string `yaml:"provider" envconfig:"WEATHER_PROVIDER" default:"openweather"`
	BaseURL  string `yaml:"base_url" envconfig:"WEATHER_API_BASE_URL"`
	APIKey   string `yaml:"api_key" envconfig:"WEATHER_API_KEY"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver" envconfig:"STORE_DRIVER" default:"memory"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH" default:"data/flight-weather.db"`
}

// AirportConfig controls the one-time airport table population. Only the
// instance whose InstanceIndex equals LoaderIndex runs it.
type AirportConfig struct {
	SourceURL     string `yaml:"source_url" envconfig:"AIRPORT_SOURCE_URL" default:"https://raw.githubusercontent.com/ip2location/ip2location-iata-icao/refs/heads/master/iata-icao.csv"`
	InstanceIndex int    `yaml:"instance_index" envconfig:"INSTANCE_INDEX" default:"0"`
	LoaderIndex   int    `yaml:"loader_index" envconfig:"LOADER_INDEX" default:"0"`
}

type LiveConfig struct {
	Embedded bool   `yaml:"embedded" envconfig:"MQTT_EMBEDDED" default:"true"`
	Bind     string `yaml:"bind" envconfig:"MQTT_BIND" default:":1883"`
	Protocol string `yaml:"protocol" envconfig:"LIVE_BROKER_PROTOCOL" default:"tcp"`
	Host     string `yaml:"host" envconfig:"LIVE_BROKER_HOST" default:"localhost"`
	Port     int    `yaml:"port" envconfig:"LIVE_BROKER_PORT" default:"1883"`
}

// BrokerURL is the address MQTT clients dial.
func (l LiveConfig) BrokerURL() string {
	return fmt.Sprintf("%s://%s:%s", l.Protocol, l.Host, strconv.Itoa(l.Port))
}

type AMQPConfig struct {
	URL      string `yaml:"url" envconfig:"AMQP_URL"`
	Exchange string `yaml:"exchange" envconfig:"AMQP_EXCHANGE" default:"forecast.topic"`
}

// Load reads .env, the environment and then the optional YAML file.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return LoadFile(getenvDefault("CONFIG_FILE", "config.yaml"))
}

// LoadFile is Load without the .env step. Values present in the YAML file
// take precedence over environment variables and defaults. A missing file is
// not an error.
func LoadFile(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Weather.Provider {
	case "openweather", "weatherapi", "openmeteo":
	default:
		return fmt.Errorf("invalid WEATHER_PROVIDER %q", c.Weather.Provider)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}
	if c.UpdateDelay <= 0 {
		return fmt.Errorf("UPDATE_DELAY must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// RunsAirportLoader reports whether this instance is the designated loader.
func (c *AppConfig) RunsAirportLoader() bool {
	return c.Airport.InstanceIndex == c.Airport.LoaderIndex
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
