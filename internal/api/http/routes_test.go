package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/flight-weather/internal/airport"
	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/notify"
	"github.com/i474232898/flight-weather/internal/scheduler"
	"github.com/i474232898/flight-weather/internal/store"
	"github.com/i474232898/flight-weather/internal/subscription"
	"github.com/i474232898/flight-weather/internal/weather"
)

var base = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type stubProvider struct {
	err error
}

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) Forecast(ctx context.Context, a model.Airport) (weather.Series, error) {
	if p.err != nil {
		return nil, p.err
	}
	series := make(weather.Series, 0, 8)
	for i := 0; i < 8; i++ {
		series = append(series, weather.Entry{
			Time:        base.Add(time.Duration(i) * 3 * time.Hour),
			Temperature: a.Latitude + float64(i),
		})
	}
	return series, nil
}

type testEnv struct {
	app   *fiber.App
	store *store.MemoryStore
	sfo   model.Airport
	jfk   model.Airport
}

func newTestEnv(t *testing.T, provider weather.Provider) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	airports := []*model.Airport{
		{IATA: "SFO", Name: "San Francisco", CountryCode: "US", Latitude: 37, Longitude: -122},
		{IATA: "JFK", Name: "Kennedy", CountryCode: "US", Latitude: 40, Longitude: -73},
		{IATA: "ATL", Name: "Atlanta", CountryCode: "US", Latitude: 33, Longitude: -84},
		{IATA: "", Name: "Field", CountryCode: "US", Latitude: 1, Longitude: 1},
		{IATA: "CDG", Name: "Paris", CountryCode: "FR", Latitude: 49, Longitude: 2},
	}
	for _, a := range airports {
		require.NoError(t, s.CreateAirport(context.Background(), a))
	}

	sched := scheduler.New(nil)
	sched.Start()
	t.Cleanup(sched.Stop)

	pub := notify.NewPublisher(s, nil, nil)
	mgr := subscription.NewManager(s, sched, pub.Job, time.Hour, nil)

	app := NewApp(AppConfig{AppName: "flight-weather-test"}, Handlers{
		Airports:      airport.NewDirectory(s),
		Weather:       weather.NewService(s, provider, nil),
		Subscriptions: mgr,
	}, nil)

	return &testEnv{app: app, store: s, sfo: *airports[0], jfk: *airports[1]}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestAirportsByCountry(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	resp, body := env.do(t, http.MethodGet, "/AirportsByCountry?country_code=US", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var airports []map[string]any
	require.NoError(t, json.Unmarshal(body, &airports))
	require.Len(t, airports, 3)
	assert.Equal(t, "ATL", airports[0]["iata"])
	assert.Equal(t, "JFK", airports[1]["iata"])
	assert.Equal(t, "SFO", airports[2]["iata"])
	assert.Contains(t, airports[0], "id")
	assert.Contains(t, airports[0], "airport")
	assert.Contains(t, airports[0], "latitude")
	assert.NotContains(t, airports[0], "country_code")

	resp, _ = env.do(t, http.MethodGet, "/AirportsByCountry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAirportCode(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	resp, body := env.do(t, http.MethodGet, "/AirportCode?iata=cdg", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var airports []model.Airport
	require.NoError(t, json.Unmarshal(body, &airports))
	require.Len(t, airports, 1)
	assert.Equal(t, "FR", airports[0].CountryCode)
}

func TestCheckTravelWeather(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	resp, body := env.do(t, http.MethodPost, "/CheckTravelWeather", map[string]string{
		"departingAirport": env.sfo.ID,
		"arrivingAirport":  env.jfk.ID,
		"departingDate":    "2026-06-01T03:00",
		"arrivingDate":     "2026-06-01T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var tw model.TravelWeather
	require.NoError(t, json.Unmarshal(body, &tw))
	assert.Equal(t, 38.0, tw.Departing.Temperature)
	assert.Equal(t, base.Add(3*time.Hour), tw.Departing.Date)
	assert.Equal(t, 43.0, tw.Arriving.Temperature)
	assert.Equal(t, "JFK", tw.Arriving.Airport.IATA)
}

func TestCheckTravelWeatherErrors(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing field", map[string]string{"departingAirport": env.sfo.ID}, http.StatusBadRequest},
		{"bad date", map[string]string{
			"departingAirport": env.sfo.ID, "arrivingAirport": env.jfk.ID,
			"departingDate": "tomorrow", "arrivingDate": "2026-06-01T10:00",
		}, http.StatusBadRequest},
		{"same dates", map[string]string{
			"departingAirport": env.sfo.ID, "arrivingAirport": env.jfk.ID,
			"departingDate": "2026-06-01T10:00", "arrivingDate": "2026-06-01T10:00",
		}, http.StatusBadRequest},
		{"unknown airport", map[string]string{
			"departingAirport": "nope", "arrivingAirport": env.jfk.ID,
			"departingDate": "2026-06-01T08:00", "arrivingDate": "2026-06-01T10:00",
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/CheckTravelWeather", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)

			var out map[string]any
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, true, out["error"])
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestCheckTravelWeatherUpstream(t *testing.T) {
	env := newTestEnv(t, stubProvider{err: errors.New("dial tcp: refused")})

	resp, body := env.do(t, http.MethodPost, "/CheckTravelWeather", map[string]string{
		"departingAirport": env.sfo.ID, "arrivingAirport": env.jfk.ID,
		"departingDate": "2026-06-01T08:00", "arrivingDate": "2026-06-01T10:00",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotContains(t, string(body), "refused")
}

func subscribeBody(env *testEnv, session string) map[string]any {
	return map[string]any{
		"sessionID": session,
		"departingAirportWeather": map[string]any{
			"airport":     map[string]any{"id": env.sfo.ID, "iata": "SFO"},
			"date":        "2026-06-01T03:00:00Z",
			"temperature": 38,
		},
		"arrivingAirportWeather": map[string]any{
			"airport":     env.jfk.ID,
			"date":        "2026-06-01T09:00:00Z",
			"temperature": 42.5,
		},
	}
}

func TestSubscribeAndFetch(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	resp, body := env.do(t, http.MethodPost, "/SubscribeToForecast", subscribeBody(env, "session-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var sub model.Subscriber
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, "session-1", sub.ID)
	require.Len(t, sub.Forecasts, 2)
	assert.Equal(t, 38.0, sub.Forecasts[0].Temperature)
	assert.Equal(t, 42.5, sub.Forecasts[1].Temperature)
	require.NotNil(t, sub.Forecasts[0].Airport)
	assert.Equal(t, "SFO", sub.Forecasts[0].Airport.IATA)

	resp, body = env.do(t, http.MethodPost, "/SubscribeToForecast", subscribeBody(env, "session-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Len(t, sub.Forecasts, 4)

	resp, body = env.do(t, http.MethodGet, "/Subscriber/?id=session-1&select(id,forecasts{id,airport,date,temperature})", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Subscriber
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Len(t, list[0].Forecasts, 4)

	resp, body = env.do(t, http.MethodGet, "/Subscriber/?id=unknown", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = env.do(t, http.MethodGet, "/Subscriber/session-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/Subscriber/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscribeValidation(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	body := subscribeBody(env, "")
	resp, _ := env.do(t, http.MethodPost, "/SubscribeToForecast", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body = subscribeBody(env, "s")
	delete(body["arrivingAirportWeather"].(map[string]any), "temperature")
	resp, _ = env.do(t, http.MethodPost, "/SubscribeToForecast", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body = subscribeBody(env, "s")
	body["departingAirportWeather"].(map[string]any)["airport"] = map[string]any{"iata": "SFO"}
	resp, _ = env.do(t, http.MethodPost, "/SubscribeToForecast", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestForecastSubscriptionAndCancel(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	_, body := env.do(t, http.MethodPost, "/SubscribeToForecast", subscribeBody(env, "cancel-me"))
	var sub model.Subscriber
	require.NoError(t, json.Unmarshal(body, &sub))
	id := sub.Forecasts[0].ID

	resp, body := env.do(t, http.MethodGet, "/ForecastSubscription/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "pending", out["updateState"])
	assert.Equal(t, "ForecastSubscription/"+id, out["topic"])

	resp, body = env.do(t, http.MethodDelete, "/ForecastSubscription/"+id+"/update", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, true, out["cancelled"])
	assert.Equal(t, "cancelled", out["updateState"])

	resp, _ = env.do(t, http.MethodDelete, "/ForecastSubscription/missing/update", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, stubProvider{})

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(model.ErrValidation))
	assert.Equal(t, http.StatusNotFound, StatusFor(model.ErrNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(model.ErrTransaction))
	assert.Equal(t, http.StatusBadGateway, StatusFor(model.ErrUpstream))
	assert.Equal(t, http.StatusTeapot, StatusFor(fiber.NewError(http.StatusTeapot, "x")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
