package db

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Station summarises the observations stored for one station.
type Station struct {
	ID           string    `json:"id"`
	Observations int64     `json:"observations"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

const listStationsSQL = `
    SELECT station_id, COUNT(*), MIN(time), MAX(time)
    FROM aws_rain_data
    GROUP BY station_id
    ORDER BY station_id
`

// ListStations returns every station that has at least one observation.
func (s *Store) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]Station, 0)
	for rows.Next() {
		var st Station
		if err := rows.Scan(&st.ID, &st.Observations, &st.FirstSeen, &st.LastSeen); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// Observation is one stored rain-rate reading.
type Observation struct {
	StationID string    `json:"station_id"`
	Timestamp time.Time `json:"ts"`
	RainMM    float64   `json:"rain_rate_mm"`
	CreatedAt time.Time `json:"created_at"`
}

// ObservationQuery holds filters for retrieving observations.
type ObservationQuery struct {
	StationID string
	Limit     int
	Since     *time.Time
	Until     *time.Time
}

const observationsBase = `
    SELECT station_id, time, rain, created_at
    FROM aws_rain_data
    WHERE station_id = $1
`

// ListObservations returns the newest observations for a station matching
// the query, newest first.
func (s *Store) ListObservations(ctx context.Context, q ObservationQuery) ([]Observation, error) {
	args := []any{q.StationID}
	clause := ""
	argPos := 2
	if q.Since != nil {
		clause += " AND time >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		clause += " AND time <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}
	order := " ORDER BY time DESC"
	limit := ""
	if q.Limit > 0 {
		limit = " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, observationsBase+clause+order+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.StationID, &o.Timestamp, &o.RainMM, &o.CreatedAt); err != nil {
			return nil, err
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

const latestSQL = observationsBase + ` ORDER BY time DESC LIMIT 1`

// Latest returns the newest observation for a station, or nil if it has none.
func (s *Store) Latest(ctx context.Context, stationID string) (*Observation, error) {
	var o Observation
	err := s.pool.QueryRow(ctx, latestSQL, stationID).Scan(&o.StationID, &o.Timestamp, &o.RainMM, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const latestPerStationSQL = `
    SELECT DISTINCT ON (station_id) station_id, time, rain, created_at
    FROM aws_rain_data
    ORDER BY station_id, time DESC
`

// LatestPerStation returns the newest observation of every station.
func (s *Store) LatestPerStation(ctx context.Context) ([]Observation, error) {
	rows, err := s.pool.Query(ctx, latestPerStationSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.StationID, &o.Timestamp, &o.RainMM, &o.CreatedAt); err != nil {
			return nil, err
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}
