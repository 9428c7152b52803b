// Package worker drives the poll, transform and persist cycle and decides
// when a failure ends the process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/internal/models"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/db"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/schedule"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/utils"
)

const closeTimeout = 5 * time.Second

// Fetcher returns the latest data point for a sensor, or nil when the
// station reported nothing for it.
type Fetcher interface {
	FetchCurrent(ctx context.Context, sensorID int) (*models.DataPoint, error)
}

// Store persists records.
type Store interface {
	Connect(ctx context.Context) error
	EnsureConnected(ctx context.Context) error
	Insert(ctx context.Context, rec models.Record) (db.Outcome, error)
	Close(ctx context.Context) error
}

// Recorder writes failover incidents.
type Recorder interface {
	RecordSingle(rec models.Record, reason string) (string, error)
	RecordCumulative(recs []models.Record, reason string) (string, error)
}

// Publisher offers inserted records to secondary sinks.
type Publisher interface {
	Publish(ctx context.Context, rec models.Record) int
}

// Options configures a Worker.
type Options struct {
	StationID       string
	SensorID        int
	IntervalMinutes int
	StrictFetch     bool

	Fetcher  Fetcher
	Store    Store
	Recorder Recorder
	Mirrors  Publisher
	Logger   *logging.Logger
}

// Worker runs cycles on a single goroutine. It is not safe for concurrent use.
type Worker struct {
	stationID   string
	sensorID    int
	interval    int
	strictFetch bool

	fetcher  Fetcher
	store    Store
	recorder Recorder
	mirrors  Publisher
	logger   *logging.Logger

	// cache holds every record stored since start-up. It is written to a
	// cumulative failover file when the worker terminates on a fatal error.
	cache []models.Record
	state State

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates opts and returns a Worker in the Idle state.
func New(opts Options) (*Worker, error) {
	if err := schedule.Validate(opts.IntervalMinutes); err != nil {
		return nil, err
	}
	if opts.StationID == "" {
		return nil, errors.New("worker: station id is required")
	}
	if opts.Fetcher == nil || opts.Store == nil || opts.Recorder == nil {
		return nil, errors.New("worker: fetcher, store and recorder are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		stationID:   opts.StationID,
		sensorID:    opts.SensorID,
		interval:    opts.IntervalMinutes,
		strictFetch: opts.StrictFetch,
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		recorder:    opts.Recorder,
		mirrors:     opts.Mirrors,
		logger:      logger,
		state:       Idle,
		now:         time.Now,
		sleep:       sleepContext,
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return w.state }

// Cached returns a copy of the cumulative cache.
func (w *Worker) Cached() []models.Record {
	return append([]models.Record(nil), w.cache...)
}

// Run cycles until a fatal error or ctx is cancelled. It never returns nil.
func (w *Worker) Run(ctx context.Context) error {
	return w.loop(ctx, 0)
}

// RunCycles runs exactly n cycles, waiting for the next boundary between
// them, and returns nil when all of them completed without a fatal error.
func (w *Worker) RunCycles(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("worker: cycle count must be positive, got %d", n)
	}
	return w.loop(ctx, n)
}

// RunOnce runs one cycle without the cumulative cache. A fatal error writes
// only the in-flight record, tagged SINGLE_RUN_FAIL.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.state = Connecting
	if err := w.store.Connect(ctx); err != nil {
		w.logger.Error("initial database connection failed", "error", err)
		w.state = Terminated
		return &FatalError{Reason: ReasonSingleRun, Err: err}
	}

	w.state = Running
	res := w.Cycle(ctx)
	w.closeStore()
	w.state = Terminated

	if res.Status != StatusFatal {
		w.logger.Info("single cycle finished", "status", res.Status.String())
		return nil
	}

	w.logger.Error("single cycle failed", "cause", string(res.Reason), "error", res.Err)
	err := res.Err
	if res.Record != nil {
		if path, ferr := w.recorder.RecordSingle(*res.Record, string(ReasonSingleRun)); ferr != nil {
			w.logger.Error("failover write failed", "error", ferr)
		} else {
			w.logger.Warn("failover written", "path", path)
		}
	}
	return &FatalError{Reason: ReasonSingleRun, Err: err}
}

func (w *Worker) loop(ctx context.Context, limit int) error {
	w.state = Connecting
	if err := w.store.Connect(ctx); err != nil {
		return w.terminate(ReasonDBConn, nil, err)
	}
	w.logger.Info("worker started",
		"station_id", w.stationID,
		"sensor_id", w.sensorID,
		"interval_minutes", w.interval,
		"strict_fetch", w.strictFetch,
	)

	for done := 0; ; {
		w.state = Running
		res := w.Cycle(ctx)
		if res.Status == StatusFatal {
			return w.terminate(res.Reason, res.Record, res.Err)
		}

		done++
		if limit > 0 && done >= limit {
			w.logger.Info("cycle limit reached", "cycles", done, "cached", len(w.cache))
			w.closeStore()
			w.state = Terminated
			return nil
		}

		w.state = Waiting
		wait, target := schedule.Next(w.interval, w.now())
		w.logger.Info("waiting for next boundary",
			"wait", wait.Round(time.Millisecond).String(),
			"target", target.Format(time.TimeOnly),
		)
		if err := w.sleep(ctx, wait); err != nil {
			w.logger.Info("worker stopped", "error", err)
			w.closeStore()
			w.state = Terminated
			return err
		}
	}
}

// Cycle performs one fetch, transform and insert. It never panics.
func (w *Worker) Cycle(ctx context.Context) (res CycleResult) {
	var inflight *models.Record
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in cycle", "panic", r, "stack", string(debug.Stack()))
			res = fatal(ReasonGeneral, inflight, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := w.store.EnsureConnected(ctx); err != nil {
		w.logger.Error("database unavailable", "origin", string(ReasonDBReconnect), "error", err)
		return fatal(ReasonDBConn, nil, err)
	}

	point, err := w.fetcher.FetchCurrent(ctx, w.sensorID)
	if err != nil {
		if w.strictFetch {
			return fatal(ReasonAPIFetch, nil, err)
		}
		w.logger.Warn("fetch failed, skipping cycle", "error", err)
		return CycleResult{Status: StatusSkipped, Err: err}
	}
	if point == nil {
		w.logger.Warn("no data for sensor, skipping cycle", "sensor_id", w.sensorID)
		return CycleResult{Status: StatusSkipped}
	}

	rec := utils.BuildRecord(*point, w.stationID, w.sensorID, w.now())
	inflight = &rec

	outcome, err := w.store.Insert(ctx, rec)
	switch outcome {
	case db.Inserted:
		w.logger.Info("record stored",
			"observed_at", utils.TimePtrString(rec.ObservedAt),
			"rain_rate_mm", utils.ValuePtrString(rec.RainRateMM),
		)
		w.cache = append(w.cache, rec)
		if w.mirrors != nil {
			w.mirrors.Publish(ctx, rec)
		}
	case db.Duplicate:
		w.logger.Info("record already stored", "observed_at", utils.TimePtrString(rec.ObservedAt))
		w.cache = append(w.cache, rec)
	default:
		if err == nil {
			err = fmt.Errorf("insert returned %s", outcome)
		}
		return fatal(ReasonDBInsert, inflight, err)
	}
	return CycleResult{Status: StatusPersisted, Outcome: outcome, Record: inflight}
}

// terminate flushes the cache and the in-flight record to failover files,
// closes the store and returns the FatalError for main.
func (w *Worker) terminate(reason Reason, inflight *models.Record, cause error) error {
	w.logger.Error("fatal error, terminating", "reason", string(reason), "error", cause, "cached", len(w.cache))

	errs := []error{cause}
	if len(w.cache) > 0 {
		path, err := w.recorder.RecordCumulative(w.cache, string(reason))
		if err != nil {
			w.logger.Error("cumulative failover write failed", "error", err)
			errs = append(errs, fmt.Errorf("cumulative failover: %w", err))
		} else {
			w.logger.Warn("cumulative failover written", "path", path, "records", len(w.cache))
		}
	}
	if inflight != nil {
		path, err := w.recorder.RecordSingle(*inflight, string(reason))
		if err != nil {
			w.logger.Error("failover write failed", "error", err)
		} else {
			w.logger.Warn("failover written", "path", path)
		}
	}

	w.closeStore()
	w.state = Terminated
	return &FatalError{Reason: reason, Err: errors.Join(errs...)}
}

func (w *Worker) closeStore() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := w.store.Close(ctx); err != nil {
		w.logger.Warn("closing database connection", "error", err)
	}
}

func fatal(reason Reason, rec *models.Record, err error) CycleResult {
	return CycleResult{Status: StatusFatal, Reason: reason, Record: rec, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
