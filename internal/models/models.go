package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentResponse models the JSON payload returned by the WeatherLink current endpoint.
type CurrentResponse struct {
	StationID   json.RawMessage `json:"station_id,omitempty"`
	Sensors     []Sensor        `json:"sensors"`
	GeneratedAt int64           `json:"generated_at,omitempty"`
}

// Sensor is one entry of the sensors list.
type Sensor struct {
	LSID       int         `json:"lsid"`
	SensorType int         `json:"sensor_type,omitempty"`
	Data       []DataPoint `json:"data"`
}

// DataPoint is a single reading reported by a sensor. TS is kept raw because
// some consoles report it as a string or omit it entirely.
type DataPoint struct {
	TS             json.RawMessage `json:"ts"`
	RainRateLastMM *float64        `json:"rain_rate_last_mm"`
	TZOffset       *int            `json:"tz_offset"`
}

// Record is the canonical, persistence-ready form of a DataPoint.
type Record struct {
	StationID  string     `json:"station_id" validate:"required"`
	SensorID   int        `json:"sensor_id"`
	ObservedAt *time.Time `json:"observed_at" validate:"required"`
	RainRateMM *float64   `json:"rain_rate_mm" validate:"required"`
	CapturedAt time.Time  `json:"captured_at" validate:"required"`
}

var recordValidator = newRecordValidator()

// newRecordValidator reports fields by their json names.
func newRecordValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the validate tags. Failures are validator.ValidationErrors
// naming the json fields that are missing.
func (r Record) Validate() error {
	return recordValidator.Struct(r)
}

// Complete reports whether the record carries every field the store needs.
func (r Record) Complete() bool {
	return r.Validate() == nil
}
