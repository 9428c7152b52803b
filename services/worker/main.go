package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/02loveslollipop/aws-rainfall/internal/failover"
	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/config"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/db"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/mirror"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/weatherlink"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/worker"
)

var version = "dev"

type flags struct {
	configPath string
	mode       string
	cycles     int
	interval   int
	migrate    bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var f flags
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "optional YAML config file")
	fs.StringVar(&f.mode, "mode", string(worker.ModeContinuous), "run mode: continuous, single or limited")
	fs.IntVar(&f.cycles, "cycles", 0, "number of cycles in limited mode")
	fs.IntVar(&f.interval, "interval", 0, "polling interval in minutes (overrides config)")
	fs.BoolVar(&f.migrate, "migrate", false, "apply pending schema migrations before starting")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if f.interval > 0 {
		cfg.Worker.IntervalMinutes = f.interval
	}

	config.PrintStatus(os.Stdout, cfg)
	if !cfg.Armed() {
		fmt.Fprintln(os.Stderr, "worker stopped: environment incomplete, check .env")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "worker stopped: %v\n", err)
		return 1
	}

	mode, err := worker.ParseMode(f.mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if mode == worker.ModeLimited && f.cycles < 1 {
		fmt.Fprintln(os.Stderr, "--cycles must be positive in limited mode")
		return 2
	}

	logger := logging.New(cfg.Logging, "worker", version)
	ctx := context.Background()

	if f.migrate {
		if err := migrate(ctx, cfg, logger); err != nil {
			logger.Error("migration failed", "error", err)
			return 1
		}
	}

	mirrors := openMirrors(cfg, logger)
	defer mirrors.Close()

	client := weatherlink.New(weatherlink.Options{
		BaseURL:          cfg.WeatherLink.BaseURL,
		APIKey:           cfg.WeatherLink.APIKey,
		APISecret:        cfg.WeatherLink.APISecret,
		StationID:        cfg.WeatherLink.StationID,
		HTTPClient:       &http.Client{Timeout: cfg.Worker.RequestTimeout},
		FailureThreshold: cfg.Worker.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenTimeout(),
		Logger:           logger.With("component", "weatherlink"),
	})

	logger.Info("polling station", "endpoint", client.Endpoint(), "sensor_id", cfg.SensorID(), "mirrors", mirrors.Len())

	w, err := worker.New(worker.Options{
		StationID:       cfg.WeatherLink.StationID,
		SensorID:        cfg.SensorID(),
		IntervalMinutes: cfg.Worker.IntervalMinutes,
		StrictFetch:     cfg.Worker.StrictFetch,
		Fetcher:         client,
		Store:           db.NewGateway(cfg.Credentials(), logger.With("component", "db")),
		Recorder:        failover.NewRecorder(cfg.Worker.FailoverDir),
		Mirrors:         mirrors,
		Logger:          logger.With("component", "worker", "mode", string(mode)),
	})
	if err != nil {
		logger.Error("invalid worker options", "error", err)
		return 1
	}

	switch mode {
	case worker.ModeSingle:
		err = w.RunOnce(ctx)
	case worker.ModeLimited:
		err = w.RunCycles(ctx, f.cycles)
	default:
		err = w.Run(ctx)
	}
	if err != nil {
		logger.Error("worker exited", "reason", string(worker.Classify(err)), "error", err)
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	conn, err := db.Connect(ctx, cfg.Credentials())
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrConnect, err)
	}
	defer conn.Close(ctx)

	applied, err := db.Migrate(ctx, conn)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "count", applied)
	return nil
}

func openMirrors(cfg config.Config, logger *logging.Logger) *mirror.Set {
	var mirrors []mirror.Mirror

	if influx, err := mirror.NewInflux(cfg.Influx); err == nil {
		mirrors = append(mirrors, influx)
	} else if !errors.Is(err, mirror.ErrDisabled) {
		logger.Warn("influx mirror unavailable", "error", err)
	}

	if mqtt, err := mirror.NewMQTT(cfg.MQTT); err == nil {
		mirrors = append(mirrors, mqtt)
	} else if !errors.Is(err, mirror.ErrDisabled) {
		logger.Warn("mqtt mirror unavailable", "error", err)
	}

	return mirror.NewSet(logger.With("component", "mirror"), mirrors...)
}
