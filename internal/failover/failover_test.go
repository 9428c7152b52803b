package failover

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

func fixedRecorder(t *testing.T) *Recorder {
	t.Helper()
	r := NewRecorder(filepath.Join(t.TempDir(), "failover_logs"))
	r.now = func() time.Time { return time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC) }
	n := 0
	r.newID = func() string {
		n++
		return strings.Repeat(string(rune('a'+n-1)), 8)
	}
	return r
}

func sampleRecord(ts int64, rain float64) models.Record {
	observed := time.Unix(ts, 0).UTC()
	return models.Record{
		StationID:  "1234",
		SensorID:   7,
		ObservedAt: &observed,
		RainRateMM: &rain,
		CapturedAt: time.Date(2023, 11, 14, 22, 15, 0, 123456789, time.UTC),
	}
}

func TestRecordSingle(t *testing.T) {
	r := fixedRecorder(t)
	rec := sampleRecord(1700000000, 0.4)

	path, err := r.RecordSingle(rec, "DB_INSERT_FAIL")
	if err != nil {
		t.Fatalf("RecordSingle: %v", err)
	}
	if got, want := filepath.Base(path), "202311142213_DB_INSERT_FAIL_worker_fail_aaaaaaaa.json"; got != want {
		t.Errorf("file name = %s, want %s", got, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.ErrorType != "DB_INSERT_FAIL" {
		t.Errorf("error_type = %s", entry.ErrorType)
	}
	if entry.ErrorTimestampLocal != "2023-11-14T22:13:20Z" {
		t.Errorf("error_timestamp_local = %s", entry.ErrorTimestampLocal)
	}
	assertRecordEqual(t, entry.SourceData, rec)
}

func TestRecordCumulative_ExactlyNLosslessEntries(t *testing.T) {
	r := fixedRecorder(t)
	recs := []models.Record{
		sampleRecord(1700000000, 0.4),
		sampleRecord(1700000300, 0),
		sampleRecord(1700000600, 12.75),
	}

	path, err := r.RecordCumulative(recs, "DB_CONN_FAIL")
	if err != nil {
		t.Fatalf("RecordCumulative: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "_CUMULATIVE_DB_CONN_FAIL_fail_") {
		t.Errorf("unexpected file name %s", path)
	}

	entries, err := Load(r.Dir(), filepath.Base(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != len(recs) {
		t.Fatalf("expected %d entries, got %d", len(recs), len(entries))
	}
	for i, e := range entries {
		if e.ErrorType != "DB_CONN_FAIL" {
			t.Errorf("entry %d error_type = %s", i, e.ErrorType)
		}
		if e.ErrorTimestampLocal != entries[0].ErrorTimestampLocal {
			t.Errorf("entry %d has a different incident timestamp", i)
		}
		assertRecordEqual(t, e.SourceData, recs[i])
	}
}

func TestRecordCumulative_EmptyCacheWritesEmptyArray(t *testing.T) {
	r := fixedRecorder(t)

	path, err := r.RecordCumulative(nil, "GENERAL_ERROR")
	if err != nil {
		t.Fatalf("RecordCumulative: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected empty array, got %s", data)
	}
}

func TestRecordSingle_UnwritableDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRecorder(filepath.Join(blocker, "sub"))
	if _, err := r.RecordSingle(sampleRecord(1700000000, 0.4), "DB_INSERT_FAIL"); err == nil {
		t.Fatal("expected error when the failover dir cannot be created")
	}
}

func TestListAndParseName(t *testing.T) {
	r := fixedRecorder(t)
	if _, err := r.RecordSingle(sampleRecord(1700000000, 0.4), "DB_INSERT_FAIL"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RecordCumulative([]models.Record{sampleRecord(1700000000, 0.4)}, "DB_CONN_FAIL"); err != nil {
		t.Fatal(err)
	}

	incidents, err := List(r.Dir())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(incidents) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(incidents))
	}

	byReason := map[string]Incident{}
	for _, inc := range incidents {
		byReason[inc.Reason] = inc
	}
	if inc, ok := byReason["DB_INSERT_FAIL"]; !ok || inc.Cumulative {
		t.Errorf("single incident not parsed: %+v", incidents)
	}
	if inc, ok := byReason["DB_CONN_FAIL"]; !ok || !inc.Cumulative {
		t.Errorf("cumulative incident not parsed: %+v", incidents)
	}
}

func TestList_MissingDir(t *testing.T) {
	incidents, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(incidents) != 0 {
		t.Errorf("expected no incidents, got %d", len(incidents))
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(dir, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := Load(dir, "../etc/passwd.json"); !errors.Is(err, ErrInvalidName) {
		t.Error("expected error for path traversal")
	}
}

func assertRecordEqual(t *testing.T, got, want models.Record) {
	t.Helper()
	if got.StationID != want.StationID || got.SensorID != want.SensorID {
		t.Errorf("ids = %s/%d, want %s/%d", got.StationID, got.SensorID, want.StationID, want.SensorID)
	}
	if got.ObservedAt == nil || !got.ObservedAt.Equal(*want.ObservedAt) {
		t.Errorf("observed_at = %v, want %v", got.ObservedAt, want.ObservedAt)
	}
	if got.RainRateMM == nil || *got.RainRateMM != *want.RainRateMM {
		t.Errorf("rain_rate_mm = %v, want %v", got.RainRateMM, *want.RainRateMM)
	}
	if !got.CapturedAt.Equal(want.CapturedAt) {
		t.Errorf("captured_at = %v, want %v", got.CapturedAt, want.CapturedAt)
	}
}
