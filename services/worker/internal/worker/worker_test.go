package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/02loveslollipop/aws-rainfall/internal/failover"
	"github.com/02loveslollipop/aws-rainfall/internal/models"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/db"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/weatherlink"
)

type fetchStep struct {
	point *models.DataPoint
	err   error
}

type fakeFetcher struct {
	steps []fetchStep
	calls int
}

func (f *fakeFetcher) FetchCurrent(ctx context.Context, sensorID int) (*models.DataPoint, error) {
	if f.calls >= len(f.steps) {
		return nil, errors.New("fake fetcher exhausted")
	}
	step := f.steps[f.calls]
	f.calls++
	return step.point, step.err
}

// fakeStore keeps rows keyed like the unique constraint on the table.
type fakeStore struct {
	connectErr error
	// ensureErrs is consumed one per EnsureConnected call; nil entries succeed.
	ensureErrs []error
	insertErr  error
	panicOn    int

	ensureCalls int
	inserts     int
	rows        map[string]models.Record
	closed      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]models.Record{}}
}

func (s *fakeStore) Connect(ctx context.Context) error { return s.connectErr }

func (s *fakeStore) EnsureConnected(ctx context.Context) error {
	defer func() { s.ensureCalls++ }()
	if s.ensureCalls < len(s.ensureErrs) {
		return s.ensureErrs[s.ensureCalls]
	}
	return nil
}

func (s *fakeStore) Insert(ctx context.Context, rec models.Record) (db.Outcome, error) {
	s.inserts++
	if s.panicOn > 0 && s.inserts == s.panicOn {
		panic("boom")
	}
	if !rec.Complete() {
		return db.Rejected, fmt.Errorf("%w: missing fields", db.ErrIncomplete)
	}
	if s.insertErr != nil {
		return db.Rejected, fmt.Errorf("%w: %w", db.ErrWrite, s.insertErr)
	}
	key := fmt.Sprintf("%d|%v|%s", rec.ObservedAt.Unix(), *rec.RainRateMM, rec.StationID)
	if _, ok := s.rows[key]; ok {
		return db.Duplicate, nil
	}
	s.rows[key] = rec
	return db.Inserted, nil
}

func (s *fakeStore) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

type fakeMirrors struct{ published []models.Record }

func (m *fakeMirrors) Publish(ctx context.Context, rec models.Record) int {
	m.published = append(m.published, rec)
	return 1
}

func point(ts int64, rain float64) *models.DataPoint {
	return &models.DataPoint{
		TS:             json.RawMessage(strconv.FormatInt(ts, 10)),
		RainRateLastMM: &rain,
	}
}

var fixedNow = time.Date(2023, 11, 14, 22, 13, 25, 0, time.UTC)

func newTestWorker(t *testing.T, fetcher Fetcher, store Store, opts ...func(*Options)) (*Worker, string, *int) {
	t.Helper()
	dir := t.TempDir()
	o := Options{
		StationID:       "117994",
		SensorID:        7,
		IntervalMinutes: 5,
		Fetcher:         fetcher,
		Store:           store,
		Recorder:        failover.NewRecorder(dir),
	}
	for _, fn := range opts {
		fn(&o)
	}
	w, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sleeps := 0
	w.now = func() time.Time { return fixedNow }
	w.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if d <= 0 || d > 5*time.Minute {
			t.Errorf("sleep duration %v out of range", d)
		}
		return ctx.Err()
	}
	return w, dir, &sleeps
}

func incidents(t *testing.T, dir string) []failover.Incident {
	t.Helper()
	list, err := failover.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return list
}

func TestCycle_ScenarioA_PersistsThenDuplicate(t *testing.T) {
	store := newFakeStore()
	mirrors := &fakeMirrors{}
	fetcher := &fakeFetcher{steps: []fetchStep{{point: point(1700000000, 0.4)}, {point: point(1700000000, 0.4)}}}
	w, _, _ := newTestWorker(t, fetcher, store, func(o *Options) { o.Mirrors = mirrors })

	first := w.Cycle(context.Background())
	if first.Status != StatusPersisted || first.Outcome != db.Inserted {
		t.Fatalf("first cycle = %+v", first)
	}
	if got := first.Record.ObservedAt.Format(time.RFC3339); got != "2023-11-14T22:13:20Z" {
		t.Fatalf("observed_at = %s", got)
	}

	second := w.Cycle(context.Background())
	if second.Status != StatusPersisted || second.Outcome != db.Duplicate {
		t.Fatalf("second cycle = %+v", second)
	}

	if len(w.Cached()) != 2 {
		t.Fatalf("cache = %d, want 2 (duplicates are cached too)", len(w.Cached()))
	}
	if len(mirrors.published) != 1 {
		t.Fatalf("mirrors got %d records, want only the inserted one", len(mirrors.published))
	}
}

func TestCycle_ScenarioB_NoDataSkips(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{steps: []fetchStep{{}, {}, {}}}
	w, dir, sleeps := newTestWorker(t, fetcher, store)

	if err := w.RunCycles(context.Background(), 3); err != nil {
		t.Fatalf("RunCycles: %v", err)
	}
	if fetcher.calls != 3 || store.inserts != 0 {
		t.Fatalf("fetch calls=%d inserts=%d", fetcher.calls, store.inserts)
	}
	if len(w.Cached()) != 0 {
		t.Fatalf("cache changed: %v", w.Cached())
	}
	if *sleeps != 2 {
		t.Fatalf("sleeps = %d, want 2", *sleeps)
	}
	if len(incidents(t, dir)) != 0 {
		t.Fatal("skip must not write failover files")
	}
	if w.State() != Terminated || !store.closed {
		t.Fatalf("state=%v closed=%v", w.State(), store.closed)
	}
}

func TestRun_ScenarioC_ReconnectFailureFlushesCache(t *testing.T) {
	store := newFakeStore()
	store.ensureErrs = []error{nil, nil, nil, fmt.Errorf("%w: connection refused", db.ErrReconnect)}
	fetcher := &fakeFetcher{steps: []fetchStep{
		{point: point(1700000000, 0.4)},
		{point: point(1700000300, 0.0)},
		{point: point(1700000600, 1.2)},
	}}
	w, dir, _ := newTestWorker(t, fetcher, store)

	err := w.Run(context.Background())
	var fatalErr *FatalError
	if !errors.As(err, &fatalErr) {
		t.Fatalf("Run() = %v, want *FatalError", err)
	}
	if fatalErr.Reason != ReasonDBConn || !errors.Is(err, db.ErrReconnect) {
		t.Fatalf("reason=%s err=%v", fatalErr.Reason, err)
	}
	if Classify(err) != ReasonDBConn {
		t.Fatalf("Classify = %s", Classify(err))
	}

	list := incidents(t, dir)
	if len(list) != 1 || !list[0].Cumulative || list[0].Reason != string(ReasonDBConn) {
		t.Fatalf("incidents = %+v", list)
	}
	entries, err := failover.Load(dir, list[0].Name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	cached := w.Cached()
	for i, e := range entries {
		if e.ErrorType != "DB_CONN_FAIL" {
			t.Errorf("entry %d error_type = %q", i, e.ErrorType)
		}
		if !e.SourceData.ObservedAt.Equal(*cached[i].ObservedAt) || *e.SourceData.RainRateMM != *cached[i].RainRateMM {
			t.Errorf("entry %d = %+v, want %+v", i, e.SourceData, cached[i])
		}
	}
	if !store.closed || w.State() != Terminated {
		t.Fatal("store should be closed on termination")
	}
}

func TestRun_ScenarioD_HTTP500IsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := weatherlink.New(weatherlink.Options{
		BaseURL:          srv.URL,
		APIKey:           "key",
		APISecret:        "secret",
		StationID:        "117994",
		HTTPClient:       srv.Client(),
		FailureThreshold: 10,
	})
	store := newFakeStore()
	w, dir, _ := newTestWorker(t, client, store)

	if err := w.RunCycles(context.Background(), 4); err != nil {
		t.Fatalf("RunCycles: %v", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("server hits = %d, want 4", hits.Load())
	}
	if store.inserts != 0 || len(incidents(t, dir)) != 0 {
		t.Fatal("fetch failures must not persist or fail over")
	}
}

func TestCycle_StrictFetchIsFatal(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{steps: []fetchStep{{err: fmt.Errorf("%w: 500", weatherlink.ErrStatus)}}}
	w, dir, _ := newTestWorker(t, fetcher, store, func(o *Options) { o.StrictFetch = true })

	err := w.Run(context.Background())
	var fatalErr *FatalError
	if !errors.As(err, &fatalErr) || fatalErr.Reason != ReasonAPIFetch {
		t.Fatalf("Run() = %v, want API_FETCH_FAIL", err)
	}
	if !errors.Is(err, weatherlink.ErrFetch) {
		t.Fatalf("error chain lost: %v", err)
	}
	if len(incidents(t, dir)) != 0 {
		t.Fatal("nothing cached or in flight, no file expected")
	}
}

func TestRun_RejectedRecordIsFatal(t *testing.T) {
	tests := []struct {
		name      string
		step      fetchStep
		insertErr error
		sentinel  error
	}{
		{
			name:     "incomplete record",
			step:     fetchStep{point: &models.DataPoint{TS: json.RawMessage(`null`), RainRateLastMM: new(float64)}},
			sentinel: db.ErrIncomplete,
		},
		{
			name:      "write error",
			step:      fetchStep{point: point(1700000900, 3.1)},
			insertErr: errors.New("disk full"),
			sentinel:  db.ErrWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			fetcher := &fakeFetcher{steps: []fetchStep{{point: point(1700000000, 0.4)}, tt.step}}
			w, dir, _ := newTestWorker(t, fetcher, store)

			// The first cycle stores normally; the store fails from the second on.
			w.Cycle(context.Background())
			store.insertErr = tt.insertErr

			err := w.Run(context.Background())
			var fatalErr *FatalError
			if !errors.As(err, &fatalErr) || fatalErr.Reason != ReasonDBInsert {
				t.Fatalf("Run() = %v, want DB_INSERT_FAIL", err)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("error %v does not wrap %v", err, tt.sentinel)
			}

			var single, cumulative int
			for _, inc := range incidents(t, dir) {
				if inc.Reason != string(ReasonDBInsert) {
					t.Errorf("incident reason = %q", inc.Reason)
				}
				if inc.Cumulative {
					cumulative++
				} else {
					single++
				}
			}
			if single != 1 || cumulative != 1 {
				t.Fatalf("single=%d cumulative=%d, want 1 and 1", single, cumulative)
			}
		})
	}
}

func TestCycle_PanicBecomesGeneralError(t *testing.T) {
	store := newFakeStore()
	store.panicOn = 1
	fetcher := &fakeFetcher{steps: []fetchStep{{point: point(1700000000, 0.4)}}}
	w, _, _ := newTestWorker(t, fetcher, store)

	res := w.Cycle(context.Background())
	if res.Status != StatusFatal || res.Reason != ReasonGeneral {
		t.Fatalf("result = %+v", res)
	}
	if res.Record == nil {
		t.Fatal("in-flight record should be reported")
	}
}

func TestRun_InitialConnectFailure(t *testing.T) {
	store := newFakeStore()
	store.connectErr = fmt.Errorf("%w: no route to host", db.ErrConnect)
	w, dir, _ := newTestWorker(t, &fakeFetcher{}, store)

	err := w.Run(context.Background())
	if Classify(err) != ReasonDBConn {
		t.Fatalf("Run() = %v", err)
	}
	if len(incidents(t, dir)) != 0 {
		t.Fatal("empty cache must not produce a file")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{steps: []fetchStep{{}}}
	w, _, _ := newTestWorker(t, fetcher, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestRunOnce(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := newFakeStore()
		w, dir, _ := newTestWorker(t, &fakeFetcher{steps: []fetchStep{{point: point(1700000000, 0.4)}}}, store)
		if err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if len(incidents(t, dir)) != 0 || !store.closed {
			t.Fatal("unexpected failover or open store")
		}
	})

	t.Run("insert failure", func(t *testing.T) {
		store := newFakeStore()
		store.insertErr = errors.New("constraint")
		w, dir, _ := newTestWorker(t, &fakeFetcher{steps: []fetchStep{{point: point(1700000000, 0.4)}}}, store)

		err := w.RunOnce(context.Background())
		var fatalErr *FatalError
		if !errors.As(err, &fatalErr) || fatalErr.Reason != ReasonSingleRun {
			t.Fatalf("RunOnce() = %v", err)
		}
		list := incidents(t, dir)
		if len(list) != 1 || list[0].Cumulative || list[0].Reason != string(ReasonSingleRun) {
			t.Fatalf("incidents = %+v", list)
		}
	})
}

func TestNewValidation(t *testing.T) {
	base := Options{StationID: "1", IntervalMinutes: 5, Fetcher: &fakeFetcher{}, Store: newFakeStore(), Recorder: failover.NewRecorder(t.TempDir())}

	bad := base
	bad.IntervalMinutes = 0
	if _, err := New(bad); err == nil {
		t.Error("expected interval error")
	}
	bad = base
	bad.Store = nil
	if _, err := New(bad); err == nil {
		t.Error("expected missing store error")
	}
	if _, err := New(base); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeContinuous, "single": ModeSingle, "limited": ModeLimited} {
		if got, err := ParseMode(in); err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("forever"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"incomplete record", fmt.Errorf("%w: missing observed_at", db.ErrIncomplete), ReasonDBInsert},
		{"write failure", fmt.Errorf("%w: insert: boom", db.ErrWrite), ReasonDBInsert},
		{"connect", fmt.Errorf("%w: refused", db.ErrConnect), ReasonDBConn},
		{"reconnect", fmt.Errorf("%w: refused", db.ErrReconnect), ReasonDBConn},
		{"fetch", fmt.Errorf("%w: 500", weatherlink.ErrStatus), ReasonAPIFetch},
		{"fatal keeps its reason", &FatalError{Reason: ReasonSingleRun, Err: db.ErrWrite}, ReasonSingleRun},
		{"anything else", errors.New("nil map"), ReasonGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
