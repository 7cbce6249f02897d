package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/scheduler"
	"github.com/i474232898/flight-weather/internal/subscription"
)

var validate = validator.New()

// AirportDirectory is the read side of the airport table.
type AirportDirectory interface {
	ListByCountry(ctx context.Context, countryCode string) ([]model.Airport, error)
	ByIATA(ctx context.Context, code string) ([]model.Airport, error)
}

// TravelChecker looks up the forecast for both legs of a trip.
type TravelChecker interface {
	Check(ctx context.Context, departingID string, departing time.Time, arrivingID string, arriving time.Time) (model.TravelWeather, error)
}

// Subscriptions creates and reads forecast subscriptions.
type Subscriptions interface {
	Subscribe(ctx context.Context, subscriberID string, departing, arriving subscription.Leg) (model.Subscriber, error)
	Subscriber(ctx context.Context, id string) (model.Subscriber, error)
	Forecast(ctx context.Context, id string) (model.ForecastSubscription, error)
	Cancel(id string) bool
	State(id string) scheduler.State
}

// Handlers holds the services the routes call into.
type Handlers struct {
	Airports      AirportDirectory
	Weather       TravelChecker
	Subscriptions Subscriptions
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/AirportsByCountry", h.airportsByCountry)
	app.Get("/AirportCode", h.airportCode)
	app.Post("/CheckTravelWeather", h.checkTravelWeather)
	app.Post("/SubscribeToForecast", h.subscribeToForecast)
	app.Get("/Subscriber/:id", h.subscriberByID)
	app.Get("/Subscriber", h.searchSubscriber)
	app.Get("/ForecastSubscription/:id", h.forecastSubscription)
	app.Delete("/ForecastSubscription/:id/update", h.cancelUpdate)
}

// airportSummary is the list projection of an airport.
type airportSummary struct {
	ID        string  `json:"id"`
	IATA      string  `json:"iata"`
	Name      string  `json:"airport"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h Handlers) airportsByCountry(c *fiber.Ctx) error {
	airports, err := h.Airports.ListByCountry(c.UserContext(), c.Query("country_code"))
	if err != nil {
		return err
	}

	out := make([]airportSummary, 0, len(airports))
	for _, a := range airports {
		out = append(out, airportSummary{
			ID:        a.ID,
			IATA:      a.IATA,
			Name:      a.Name,
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
		})
	}
	return c.JSON(out)
}

func (h Handlers) airportCode(c *fiber.Ctx) error {
	airports, err := h.Airports.ByIATA(c.UserContext(), c.Query("iata"))
	if err != nil {
		return err
	}
	return c.JSON(airports)
}

// checkTravelRequest is the body of POST /CheckTravelWeather.
type checkTravelRequest struct {
	DepartingAirport string `json:"departingAirport" validate:"required"`
	ArrivingAirport  string `json:"arrivingAirport" validate:"required"`
	DepartingDate    string `json:"departingDate" validate:"required"`
	ArrivingDate     string `json:"arrivingDate" validate:"required"`
}

func (h Handlers) checkTravelWeather(c *fiber.Ctx) error {
	var req checkTravelRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	departing, err := parseTime(req.DepartingDate)
	if err != nil {
		return fmt.Errorf("departingDate: %w", err)
	}
	arriving, err := parseTime(req.ArrivingDate)
	if err != nil {
		return fmt.Errorf("arrivingDate: %w", err)
	}

	result, err := h.Weather.Check(c.UserContext(), req.DepartingAirport, departing, req.ArrivingAirport, arriving)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// legRequest mirrors a forecast result as returned by CheckTravelWeather.
// Airport may be the airport object or its id.
type legRequest struct {
	Airport     json.RawMessage `json:"airport" validate:"required"`
	Date        string          `json:"date" validate:"required"`
	Temperature *float64        `json:"temperature" validate:"required"`
}

func (l legRequest) toLeg() (subscription.Leg, error) {
	id, err := airportID(l.Airport)
	if err != nil {
		return subscription.Leg{}, err
	}
	date, err := parseTime(l.Date)
	if err != nil {
		return subscription.Leg{}, err
	}
	return subscription.Leg{AirportID: id, Date: date, Temperature: *l.Temperature}, nil
}

// subscribeRequest is the body of POST /SubscribeToForecast.
type subscribeRequest struct {
	SessionID string     `json:"sessionID" validate:"required"`
	Departing legRequest `json:"departingAirportWeather"`
	Arriving  legRequest `json:"arrivingAirportWeather"`
}

func (h Handlers) subscribeToForecast(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	departing, err := req.Departing.toLeg()
	if err != nil {
		return fmt.Errorf("departingAirportWeather: %w", err)
	}
	arriving, err := req.Arriving.toLeg()
	if err != nil {
		return fmt.Errorf("arrivingAirportWeather: %w", err)
	}

	sub, err := h.Subscriptions.Subscribe(c.UserContext(), req.SessionID, departing, arriving)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (h Handlers) subscriberByID(c *fiber.Ctx) error {
	sub, err := h.Subscriptions.Subscriber(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

// searchSubscriber answers GET /Subscriber/?id=... with a list holding the
// match, or an empty list.
func (h Handlers) searchSubscriber(c *fiber.Ctx) error {
	id := c.Query("id")
	if id == "" {
		return fmt.Errorf("id query parameter is required: %w", model.ErrValidation)
	}

	sub, err := h.Subscriptions.Subscriber(c.UserContext(), id)
	if errors.Is(err, model.ErrNotFound) {
		return c.JSON([]model.Subscriber{})
	}
	if err != nil {
		return err
	}
	return c.JSON([]model.Subscriber{sub})
}

func (h Handlers) forecastSubscription(c *fiber.Ctx) error {
	id := c.Params("id")
	f, err := h.Subscriptions.Forecast(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"forecast":    f,
		"topic":       f.Topic(),
		"updateState": h.Subscriptions.State(id).String(),
	})
}

func (h Handlers) cancelUpdate(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.Subscriptions.Forecast(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"cancelled":   h.Subscriptions.Cancel(id),
		"updateState": h.Subscriptions.State(id).String(),
	})
}

func bindJSON(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("invalid request body: %w", model.ErrValidation)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), model.ErrValidation)
	}
	return nil
}

func airportID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", fmt.Errorf("airport is required: %w", model.ErrValidation)
		}
		return id, nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
		return "", fmt.Errorf("airport must be an id or an object with an id: %w", model.ErrValidation)
	}
	return obj.ID, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseTime accepts RFC3339, datetime-local style values (read as UTC) or
// Unix seconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format %q; use RFC3339 or unix seconds: %w", s, model.ErrValidation)
}
