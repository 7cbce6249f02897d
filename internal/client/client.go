package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/flight-weather/internal/model"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the status back onto the model sentinels so callers can use
// errors.Is the same way the server does.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return model.ErrValidation
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusConflict:
		return model.ErrTransaction
	case http.StatusBadGateway:
		return model.ErrUpstream
	default:
		return nil
	}
}

// Client talks to the flight-weather HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. A nil httpClient gets a
// 15s timeout client.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Airports lists the airports of a country, sorted by IATA code.
func (c *Client) Airports(ctx context.Context, countryCode string) ([]model.Airport, error) {
	var out []model.Airport
	q := url.Values{"country_code": {countryCode}}
	if err := c.do(ctx, http.MethodGet, "/AirportsByCountry?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AirportByIATA looks up airports by IATA code.
func (c *Client) AirportByIATA(ctx context.Context, code string) ([]model.Airport, error) {
	var out []model.Airport
	q := url.Values{"iata": {code}}
	if err := c.do(ctx, http.MethodGet, "/AirportCode?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type checkRequest struct {
	DepartingAirport string `json:"departingAirport"`
	ArrivingAirport  string `json:"arrivingAirport"`
	DepartingDate    string `json:"departingDate"`
	ArrivingDate     string `json:"arrivingDate"`
}

// Check asks for the forecast of both legs. The departure must be strictly
// before the arrival; otherwise no request is sent.
func (c *Client) Check(ctx context.Context, departingID string, departing time.Time, arrivingID string, arriving time.Time) (model.TravelWeather, error) {
	if departingID == "" || arrivingID == "" {
		return model.TravelWeather{}, fmt.Errorf("both airports are required: %w", model.ErrValidation)
	}
	if departing.IsZero() || arriving.IsZero() {
		return model.TravelWeather{}, fmt.Errorf("both dates are required: %w", model.ErrValidation)
	}
	if !departing.Before(arriving) {
		return model.TravelWeather{}, fmt.Errorf("departing date must be before arriving date: %w", model.ErrValidation)
	}

	req := checkRequest{
		DepartingAirport: departingID,
		ArrivingAirport:  arrivingID,
		DepartingDate:    departing.UTC().Format(time.RFC3339),
		ArrivingDate:     arriving.UTC().Format(time.RFC3339),
	}
	var out model.TravelWeather
	if err := c.do(ctx, http.MethodPost, "/CheckTravelWeather", req, &out); err != nil {
		return model.TravelWeather{}, err
	}
	return out, nil
}

type subscribeRequest struct {
	SessionID string               `json:"sessionID"`
	Departing model.ForecastResult `json:"departingAirportWeather"`
	Arriving  model.ForecastResult `json:"arrivingAirportWeather"`
}

// Subscribe follows both legs of a checked trip under the given session.
func (c *Client) Subscribe(ctx context.Context, sessionID string, trip model.TravelWeather) (model.Subscriber, error) {
	if sessionID == "" {
		return model.Subscriber{}, fmt.Errorf("session id is required: %w", model.ErrValidation)
	}
	req := subscribeRequest{
		SessionID: sessionID,
		Departing: trip.Departing,
		Arriving:  trip.Arriving,
	}
	var out model.Subscriber
	if err := c.do(ctx, http.MethodPost, "/SubscribeToForecast", req, &out); err != nil {
		return model.Subscriber{}, err
	}
	return out, nil
}

// Subscriber fetches the subscriber with all of its forecasts.
func (c *Client) Subscriber(ctx context.Context, id string) (model.Subscriber, error) {
	var out []model.Subscriber
	q := url.Values{"id": {id}}
	if err := c.do(ctx, http.MethodGet, "/Subscriber?"+q.Encode(), nil, &out); err != nil {
		return model.Subscriber{}, err
	}
	if len(out) == 0 {
		return model.Subscriber{}, fmt.Errorf("subscriber %s: %w", id, model.ErrNotFound)
	}
	return out[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 from the server or a missing
// subscriber.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
