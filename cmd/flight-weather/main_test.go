package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/flight-weather/internal/client"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

	for _, in := range []string{"2026-06-02T08:00", "2026-06-02 08:00", "2026-06-02T10:00:00+02:00"} {
		got, err := parseTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseTime("tomorrow")
	assert.Error(t, err)
}

func TestResolveAirport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("iata") == "SFO" {
			w.Write([]byte(`[{"id":"a-sfo","iata":"SFO"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	ctx := context.Background()

	id, err := resolveAirport(ctx, c, "SFO")
	require.NoError(t, err)
	assert.Equal(t, "a-sfo", id)

	id, err = resolveAirport(ctx, c, "XYZ")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", id)

	id, err = resolveAirport(ctx, c, "2f1c-uuid")
	require.NoError(t, err)
	assert.Equal(t, "2f1c-uuid", id)
}
