package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

const (
	influxMeasurement    = "rain_rate"
	influxConnectTimeout = 10 * time.Second
)

// InfluxConfig contains InfluxDB v2 connection settings.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes each record as one rain_rate point.
type Influx struct {
	client influxdb2.Client
	writer pointWriter
}

// NewInflux connects to InfluxDB and verifies it with a ping.
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("influx mirror requires url and bucket")
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(influxConnectTimeout/time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), influxConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influx ping: server not healthy")
	}

	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Name implements Mirror.
func (m *Influx) Name() string { return "influxdb" }

// Publish writes the record synchronously.
func (m *Influx) Publish(ctx context.Context, rec models.Record) error {
	point, err := pointFor(rec)
	if err != nil {
		return err
	}
	return m.writer.WritePoint(ctx, point)
}

// Close releases the client.
func (m *Influx) Close() error {
	if m.client != nil {
		m.client.Close()
	}
	return nil
}

func pointFor(rec models.Record) (*write.Point, error) {
	if rec.ObservedAt == nil || rec.RainRateMM == nil {
		return nil, errors.New("influx point requires observed_at and rain_rate_mm")
	}
	return influxdb2.NewPoint(
		influxMeasurement,
		map[string]string{
			"station_id": rec.StationID,
			"sensor_id":  strconv.Itoa(rec.SensorID),
		},
		map[string]interface{}{
			"rain_mm": *rec.RainRateMM,
		},
		*rec.ObservedAt,
	), nil
}
