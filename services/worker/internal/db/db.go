package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

const (
	defaultConnectTimeout = 10 * time.Second
	pingTimeout           = 5 * time.Second
	rollbackTimeout       = 5 * time.Second
	closeTimeout          = 5 * time.Second
)

const insertObservationSQL = `INSERT INTO aws_rain_data (station_id, time, rain, created_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (time, rain, station_id) DO NOTHING`

// Outcome is the result of one Insert.
type Outcome int

const (
	Inserted Outcome = iota + 1
	Duplicate
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Credentials identify the Postgres database holding observations.
type Credentials struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	ConnectTimeout time.Duration
}

// ConnString renders the credentials as a postgres:// URL.
func (c Credentials) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Connect opens a single connection and verifies it with a ping.
func Connect(ctx context.Context, creds Credentials) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(creds.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	cfg.ConnectTimeout = creds.ConnectTimeout
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// conn is the subset of *pgx.Conn the gateway uses.
type conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context, creds Credentials) (conn, error)

func dialPgx(ctx context.Context, creds Credentials) (conn, error) {
	c, err := Connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Gateway owns the long-lived store connection and performs idempotent
// inserts. It is not safe for concurrent use; the worker drives it from a
// single goroutine.
type Gateway struct {
	creds  Credentials
	conn   conn
	dial   dialFunc
	logger *logging.Logger
}

// NewGateway returns a disconnected Gateway. Call Connect before Insert.
func NewGateway(creds Credentials, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gateway{
		creds:  creds,
		dial:   dialPgx,
		logger: logger,
	}
}

// Connect opens the initial connection.
func (g *Gateway) Connect(ctx context.Context) error {
	c, err := g.dial(ctx, g.creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	g.conn = c
	g.logger.Info("postgres connected", "host", g.creds.Host, "database", g.creds.Name)
	return nil
}

// EnsureConnected re-opens the connection when it is missing, closed, or no
// longer answers a ping.
func (g *Gateway) EnsureConnected(ctx context.Context) error {
	if g.conn != nil && !g.conn.IsClosed() {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := g.conn.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		g.logger.Warn("postgres connection lost", "error", err)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		_ = g.conn.Close(closeCtx)
		cancel()
	}

	g.logger.Info("reconnecting to postgres", "host", g.creds.Host)
	c, err := g.dial(ctx, g.creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReconnect, err)
	}
	g.conn = c
	g.logger.Info("postgres reconnected")
	return nil
}

// Insert validates rec and writes it. A collision on (time, rain, station_id)
// is reported as Duplicate. Every Rejected outcome comes with a non-nil error
// wrapping ErrIncomplete or ErrWrite.
func (g *Gateway) Insert(ctx context.Context, rec models.Record) (Outcome, error) {
	if err := rec.Validate(); err != nil {
		return Rejected, fmt.Errorf("%w: %s", ErrIncomplete, missingFields(err))
	}
	if g.conn == nil || g.conn.IsClosed() {
		return Rejected, fmt.Errorf("%w: connection is closed", ErrWrite)
	}

	tx, err := g.conn.Begin(ctx)
	if err != nil {
		return Rejected, fmt.Errorf("%w: begin: %w", ErrWrite, err)
	}

	tag, err := tx.Exec(ctx, insertObservationSQL, rec.StationID, rec.ObservedAt.UTC(), *rec.RainRateMM)
	if err != nil {
		g.rollback(ctx, tx)
		g.logWriteError(err)
		return Rejected, fmt.Errorf("%w: insert: %w", ErrWrite, err)
	}
	if err := tx.Commit(ctx); err != nil {
		g.rollback(ctx, tx)
		g.logWriteError(err)
		return Rejected, fmt.Errorf("%w: commit: %w", ErrWrite, err)
	}

	if tag.RowsAffected() == 0 {
		return Duplicate, nil
	}
	return Inserted, nil
}

// rollback uses its own deadline so a cancelled cycle still releases the
// transaction.
func (g *Gateway) rollback(ctx context.Context, tx pgx.Tx) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		g.logger.Warn("rollback failed", "error", err)
	}
}

func (g *Gateway) logWriteError(err error) {
	if code, constraint, ok := PgErrorDetails(err); ok {
		g.logger.Error("insert failed", "sqlstate", code, "constraint", constraint, "unique_violation", IsUniqueViolation(err), "error", err)
		return
	}
	g.logger.Error("insert failed", "error", err)
}

// Close closes the connection. It is safe to call more than once.
func (g *Gateway) Close(ctx context.Context) error {
	if g.conn == nil || g.conn.IsClosed() {
		return nil
	}
	return g.conn.Close(ctx)
}

func missingFields(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "missing " + strings.Join(fields, ", ")
}
