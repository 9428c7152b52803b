// Package mirror forwards newly inserted records to secondary sinks.
//
// Mirrors are best-effort: Postgres stays the system of record, and a mirror
// failure is logged without affecting the cycle outcome.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

const publishTimeout = 10 * time.Second

// ErrDisabled is returned by constructors when the sink is not configured.
var ErrDisabled = errors.New("mirror disabled")

// Mirror is a secondary sink for inserted records.
type Mirror interface {
	Name() string
	Publish(ctx context.Context, rec models.Record) error
	Close() error
}

// Set fans a record out to every configured mirror, one after another.
type Set struct {
	mirrors []Mirror
	logger  *logging.Logger
}

// NewSet returns a Set over mirrors. A nil logger discards output.
func NewSet(logger *logging.Logger, mirrors ...Mirror) *Set {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Set{mirrors: mirrors, logger: logger}
}

// Len returns the number of mirrors in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.mirrors)
}

// Publish offers rec to each mirror and returns how many accepted it.
func (s *Set) Publish(ctx context.Context, rec models.Record) int {
	if s == nil {
		return 0
	}
	ok := 0
	for _, m := range s.mirrors {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := m.Publish(pubCtx, rec)
		cancel()
		if err != nil {
			s.logger.Warn("mirror publish failed", "mirror", m.Name(), "error", err)
			continue
		}
		ok++
	}
	return ok
}

// Close closes every mirror and joins the errors.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
