package model

import "time"

// Airport is a row of the airport reference table.
type Airport struct {
	ID          string  `json:"id"`
	IATA        string  `json:"iata"`
	ICAO        string  `json:"icao,omitempty"`
	Name        string  `json:"airport"`
	Region      string  `json:"region_name,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Subscriber is keyed by the client supplied session token.
type Subscriber struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"createdAt"`
	Forecasts []ForecastSubscription `json:"forecasts"`
}

// ForecastSubscription tracks the temperature estimate of one leg.
// Airport is only resolved on reads.
type ForecastSubscription struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriberId"`
	AirportID    string    `json:"airportId"`
	Airport      *Airport  `json:"airport,omitempty"`
	Date         time.Time `json:"date"`
	Temperature  float64   `json:"temperature"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Topic returns the live-update topic for this subscription.
func (f ForecastSubscription) Topic() string {
	return TopicFor(f.ID)
}

// TopicPrefix namespaces the per-subscription live update topics.
const TopicPrefix = "ForecastSubscription/"

// TopicFor builds the topic name for a forecast subscription id.
func TopicFor(id string) string {
	return TopicPrefix + id
}

// ForecastResult is the forecast entry nearest to a requested time.
type ForecastResult struct {
	Airport     Airport   `json:"airport"`
	Date        time.Time `json:"date"`
	Temperature float64   `json:"temperature"`
}

// TravelWeather pairs the departure and arrival forecasts of a trip.
type TravelWeather struct {
	Departing ForecastResult `json:"departingAirportWeather"`
	Arriving  ForecastResult `json:"arrivingAirportWeather"`
}

// UpdateMessage is what gets pushed to a subscription topic.
// ReceivedAt is stamped by the consumer.
type UpdateMessage struct {
	ForecastSubscription
	MessageID  string     `json:"messageId"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}
