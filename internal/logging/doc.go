// Package logging provides structured logging for the rainfall services.
//
// It wraps log/slog so every component logs with the same handler, level
// filtering and default fields (service, version).
//
//	logger := logging.New(logging.Config{Level: "info", Format: "text"}, "worker", version)
//	logger.Info("cycle started", "station_id", stationID)
//	dbLogger := logger.With("component", "db")
//
// Never log API secrets or database passwords.
package logging
