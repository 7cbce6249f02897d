package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/i474232898/flight-weather/internal/model"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore persists airports, subscribers and forecast subscriptions in SQLite.
type SQLiteStore struct {
	db *sql.DB
	sqlQueries
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, sqlQueries: sqlQueries{q: db}}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the tables exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS airports (
			id TEXT PRIMARY KEY,
			iata TEXT NOT NULL DEFAULT '',
			icao TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			region_name TEXT NOT NULL DEFAULT '',
			country_code TEXT NOT NULL DEFAULT '',
			latitude REAL NOT NULL,
			longitude REAL NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_airports_iata ON airports(upper(iata)) WHERE iata <> '';`,
		`CREATE INDEX IF NOT EXISTS idx_airports_country ON airports(upper(country_code), iata);`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS forecast_subscriptions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			subscriber_id TEXT NOT NULL REFERENCES subscribers(id),
			airport_id TEXT NOT NULL,
			date TEXT NOT NULL,
			temperature REAL NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_forecasts_subscriber ON forecast_subscriptions(subscriber_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Transaction runs fn inside a database transaction.
func (s *SQLiteStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", model.ErrTransaction, err)
	}

	if err := fn(sqlQueries{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %w", model.ErrTransaction, err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlQueries implements Tx over either *sql.DB or *sql.Tx.
type sqlQueries struct {
	q querier
}

const airportColumns = `id, iata, icao, name, region_name, country_code, latitude, longitude`

func scanAirport(row interface{ Scan(...any) error }) (model.Airport, error) {
	var a model.Airport
	err := row.Scan(&a.ID, &a.IATA, &a.ICAO, &a.Name, &a.Region, &a.CountryCode, &a.Latitude, &a.Longitude)
	return a, err
}

func (s sqlQueries) Airport(ctx context.Context, id string) (model.Airport, error) {
	a, err := scanAirport(s.q.QueryRowContext(ctx,
		`SELECT `+airportColumns+` FROM airports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Airport{}, fmt.Errorf("airport %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Airport{}, fmt.Errorf("query airport: %w", err)
	}
	return a, nil
}

func (s sqlQueries) SearchAirports(ctx context.Context, q AirportQuery) ([]model.Airport, error) {
	var (
		where []string
		args  []any
	)
	if q.SkipEmptyIATA {
		where = append(where, `iata <> ''`)
	}
	if q.CountryCode != "" {
		where = append(where, `upper(country_code) = upper(?)`)
		args = append(args, q.CountryCode)
	}
	if q.IATA != "" {
		where = append(where, `upper(iata) = upper(?)`)
		args = append(args, q.IATA)
	}

	query := `SELECT ` + airportColumns + ` FROM airports`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY iata, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query airports: %w", err)
	}
	defer rows.Close()

	result := []model.Airport{}
	for rows.Next() {
		a, err := scanAirport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan airport: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s sqlQueries) CreateAirport(ctx context.Context, a *model.Airport) error {
	if a.ID == "" {
		a.ID = newID()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO airports (`+airportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IATA, a.ICAO, a.Name, a.Region, a.CountryCode, a.Latitude, a.Longitude)
	if err != nil {
		return mapWriteError("insert airport", err)
	}
	return nil
}

func (s sqlQueries) UpsertSubscriber(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO subscribers (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return mapWriteError("upsert subscriber", err)
	}
	return nil
}

func (s sqlQueries) Subscriber(ctx context.Context, id string) (model.Subscriber, error) {
	var (
		sub     model.Subscriber
		created string
	)
	err := s.q.QueryRowContext(ctx, `SELECT id, created_at FROM subscribers WHERE id = ?`, id).
		Scan(&sub.ID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscriber{}, fmt.Errorf("subscriber %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("query subscriber: %w", err)
	}
	if sub.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return model.Subscriber{}, fmt.Errorf("parse subscriber created_at: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, forecastSelect+` WHERE f.subscriber_id = ? ORDER BY f.seq`, id)
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	sub.Forecasts = []model.ForecastSubscription{}
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return model.Subscriber{}, err
		}
		sub.Forecasts = append(sub.Forecasts, f)
	}
	return sub, rows.Err()
}

const forecastSelect = `SELECT f.id, f.subscriber_id, f.airport_id, f.date, f.temperature, f.created_at,
	a.id, a.iata, a.icao, a.name, a.region_name, a.country_code, a.latitude, a.longitude
	FROM forecast_subscriptions f LEFT JOIN airports a ON a.id = f.airport_id`

func scanForecast(row interface{ Scan(...any) error }) (model.ForecastSubscription, error) {
	var (
		f                model.ForecastSubscription
		date, created    string
		aID, iata, icao  sql.NullString
		name, region, cc sql.NullString
		lat, lon         sql.NullFloat64
	)
	err := row.Scan(&f.ID, &f.SubscriberID, &f.AirportID, &date, &f.Temperature, &created,
		&aID, &iata, &icao, &name, &region, &cc, &lat, &lon)
	if err != nil {
		return f, err
	}
	if f.Date, err = time.Parse(timeLayout, date); err != nil {
		return f, fmt.Errorf("parse forecast date: %w", err)
	}
	if f.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return f, fmt.Errorf("parse forecast created_at: %w", err)
	}
	if aID.Valid {
		f.Airport = &model.Airport{
			ID:          aID.String,
			IATA:        iata.String,
			ICAO:        icao.String,
			Name:        name.String,
			Region:      region.String,
			CountryCode: cc.String,
			Latitude:    lat.Float64,
			Longitude:   lon.Float64,
		}
	}
	return f, nil
}

func (s sqlQueries) CreateForecast(ctx context.Context, f *model.ForecastSubscription) error {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE id = ?`, f.SubscriberID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("subscriber %q: %w", f.SubscriberID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query subscriber: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO forecast_subscriptions (id, subscriber_id, airport_id, date, temperature, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.SubscriberID, f.AirportID, f.Date.UTC().Format(timeLayout), f.Temperature,
		f.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return mapWriteError("insert forecast subscription", err)
	}
	return nil
}

func (s sqlQueries) Forecast(ctx context.Context, id string) (model.ForecastSubscription, error) {
	f, err := scanForecast(s.q.QueryRowContext(ctx, forecastSelect+` WHERE f.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ForecastSubscription{}, fmt.Errorf("forecast subscription %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ForecastSubscription{}, fmt.Errorf("query forecast subscription: %w", err)
	}
	return f, nil
}

func (s sqlQueries) PatchForecastTemperature(ctx context.Context, id string, temperature float64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE forecast_subscriptions SET temperature = ? WHERE id = ?`, temperature, id)
	if err != nil {
		return mapWriteError("update forecast subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update forecast subscription: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("forecast subscription %q: %w", id, ErrNotFound)
	}
	return nil
}

func mapWriteError(op string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrTransaction, err)
}

func newID() string {
	return uuid.NewString()
}
