package airport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/store"
)

const sampleCSV = `"country_code","region_name","iata","icao","airport","latitude","longitude"
"US","California","SFO","KSFO","San Francisco International Airport","37.6188","-122.375"
"US","New York","JFK","KJFK","John F Kennedy International Airport","40.6398","-73.7789"
"US","Alaska","","PAXX","Unnamed Strip","61.1","-150.0"
"US","Georgia","ATL","KATL","Hartsfield-Jackson Atlanta International Airport","33.6367","-84.4281"
"FR","Ile-de-France","CDG","LFPG","Paris Charles de Gaulle Airport","49.0128","2.55"
`

func csvServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestParseCSV(t *testing.T) {
	airports, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, airports, 4)

	assert.Equal(t, model.Airport{
		IATA:        "SFO",
		ICAO:        "KSFO",
		Name:        "San Francisco International Airport",
		Region:      "California",
		CountryCode: "US",
		Latitude:    37.6188,
		Longitude:   -122.375,
	}, airports[0])
}

func TestParseCSVMissingColumn(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("country_code,iata\nUS,SFO\n"))
	assert.ErrorIs(t, err, errMissingColumn)
}

func TestLoadPopulatesEmptyTableOnce(t *testing.T) {
	ctx := context.Background()
	srv, hits := csvServer(t, sampleCSV)
	s := store.NewMemoryStore()
	loader := NewLoader(s, srv.Client(), srv.URL, nil)

	n, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadAsLeader(t *testing.T) {
	ctx := context.Background()
	srv, hits := csvServer(t, sampleCSV)
	s := store.NewMemoryStore()
	loader := NewLoader(s, srv.Client(), srv.URL, nil)

	n, err := loader.LoadAsLeader(ctx, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, hits.Load())

	all, err := s.SearchAirports(ctx, store.AirportQuery{})
	require.NoError(t, err)
	assert.Empty(t, all)

	n, err = loader.LoadAsLeader(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestLoadUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewLoader(store.NewMemoryStore(), srv.Client(), srv.URL, nil).Load(context.Background())
	assert.ErrorIs(t, err, model.ErrUpstream)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	srv, _ := csvServer(t, sampleCSV)
	s := store.NewMemoryStore()
	_, err := NewLoader(s, srv.Client(), srv.URL, nil).Load(ctx)
	require.NoError(t, err)

	dir := NewDirectory(s)

	us, err := dir.ListByCountry(ctx, "US")
	require.NoError(t, err)
	codes := make([]string, 0, len(us))
	for _, a := range us {
		assert.NotEmpty(t, a.IATA)
		codes = append(codes, a.IATA)
	}
	assert.Equal(t, []string{"ATL", "JFK", "SFO"}, codes)

	_, err = dir.ListByCountry(ctx, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	byCode, err := dir.ByIATA(ctx, "cdg")
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "FR", byCode[0].CountryCode)

	a, err := dir.Airport(ctx, byCode[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "CDG", a.IATA)

	none, err := dir.ByIATA(ctx, "XXX")
	require.NoError(t, err)
	assert.Empty(t, none)
}
