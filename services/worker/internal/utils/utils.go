package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

// BuildRecord normalizes a raw data point into a Record. It never fails:
// a missing or unparsable timestamp leaves ObservedAt nil and the store
// decides what to do with the incomplete record.
func BuildRecord(point models.DataPoint, stationID string, sensorID int, capturedAt time.Time) models.Record {
	return models.Record{
		StationID:  stationID,
		SensorID:   sensorID,
		ObservedAt: ParseUnixTS(point.TS),
		RainRateMM: NormalizeValue(point.RainRateLastMM),
		CapturedAt: capturedAt.UTC(),
	}
}

// ParseUnixTS reads Unix seconds from a JSON number or numeric string and
// returns the instant in UTC. Null, empty or non-numeric input yields nil.
func ParseUnixTS(raw json.RawMessage) *time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return nil
		}
		s = strings.TrimSpace(unquoted)
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		ts := time.Unix(secs, 0).UTC()
		return &ts
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f > math.MaxInt64/2 || f < math.MinInt64/2 {
		return nil
	}
	secs, frac := math.Modf(f)
	ts := time.Unix(int64(secs), int64(frac*1e9)).UTC()
	return &ts
}

// NormalizeValue copies a raw value so records never alias decoder memory.
// NaN and infinities are dropped.
func NormalizeValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	val := *v
	return &val
}

// ValuePtrString prints pointer values for logging.
func ValuePtrString(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.3f", *v)
}

// TimePtrString prints optional timestamps for logging.
func TimePtrString(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.Format(time.RFC3339)
}
