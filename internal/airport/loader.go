package airport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/metrics"
	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/store"
)

var errMissingColumn = errors.New("missing csv column")

// Loader populates an empty airport table from the IATA/ICAO CSV source.
type Loader struct {
	store     store.Store
	client    *http.Client
	sourceURL string
	log       *logger.Logger
}

func NewLoader(s store.Store, client *http.Client, sourceURL string, log *logger.Logger) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{store: s, client: client, sourceURL: sourceURL, log: log}
}

// Load inserts every CSV row with an IATA code in one transaction. It does
// nothing if the table already holds at least one airport and returns the
// number of rows inserted.
func (l *Loader) Load(ctx context.Context) (int, error) {
	existing, err := l.store.SearchAirports(ctx, store.AirportQuery{Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("check airport table: %w", err)
	}
	if len(existing) > 0 {
		l.log.Info("airport table is not empty, skipping population")
		return 0, nil
	}

	airports, err := l.fetch(ctx)
	if err != nil {
		return 0, err
	}

	l.log.Info("populating airport table", map[string]any{"records": len(airports)})

	inserted := 0
	err = l.store.Transaction(ctx, func(tx store.Tx) error {
		seen := make(map[string]bool, len(airports))
		for i := range airports {
			code := strings.ToUpper(airports[i].IATA)
			if seen[code] {
				continue
			}
			seen[code] = true
			if err := tx.CreateAirport(ctx, &airports[i]); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("populate airports: %w", err)
	}

	metrics.AirportsLoaded.Set(float64(inserted))
	l.log.Info("finished populating the airport table", map[string]any{"inserted": inserted})
	return inserted, nil
}

// LoadAsLeader runs Load only on the instance whose index equals
// loaderIndex, so replicas sharing a store populate it once.
func (l *Loader) LoadAsLeader(ctx context.Context, instanceIndex, loaderIndex int) (int, error) {
	if instanceIndex != loaderIndex {
		l.log.Debug("not the airport loader instance, skipping population", map[string]any{
			"instance_index": instanceIndex,
			"loader_index":   loaderIndex,
		})
		return 0, nil
	}
	return l.Load(ctx)
}

func (l *Loader) fetch(ctx context.Context) ([]model.Airport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.sourceURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download airports: %w: %w", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download airports: %w: status %d", model.ErrUpstream, resp.StatusCode)
	}
	return ParseCSV(resp.Body)
}

// ParseCSV reads the ip2location iata-icao layout. Columns are matched by
// header name; rows without an IATA code are skipped.
func ParseCSV(r io.Reader) ([]model.Airport, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range []string{"iata", "airport", "latitude", "longitude"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingColumn, col)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var airports []model.Airport
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		iata := field(rec, "iata")
		if iata == "" {
			continue
		}

		lat, err := strconv.ParseFloat(field(rec, "latitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(field(rec, "longitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d longitude: %w", line, err)
		}

		airports = append(airports, model.Airport{
			IATA:        iata,
			ICAO:        field(rec, "icao"),
			Name:        field(rec, "airport"),
			Region:      field(rec, "region_name"),
			CountryCode: field(rec, "country_code"),
			Latitude:    lat,
			Longitude:   lon,
		})
	}
	return airports, nil
}
