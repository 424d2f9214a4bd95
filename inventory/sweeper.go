package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/enterpriseshop/stockops_backend/models"
	"github.com/sirupsen/logrus"
)

// Sweeper reclaims reservations whose deadline passed without a confirm or
// release. It runs as a background goroutine next to the HTTP server.
//
// One bad reservation never stops the pass: each expiry is its own
// transaction and failures are logged and skipped.
type Sweeper struct {
	Manager   *Manager
	Logger    *logrus.Logger
	Interval  time.Duration
	BatchSize int
}

func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{
		Manager:   manager,
		Logger:    manager.Logger,
		Interval:  60 * time.Second,
		BatchSize: 100,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.Manager == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

// SweepOnce expires every overdue reservation it can and reports how many
// it transitioned.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := time.Now().UTC()
	due, err := s.Manager.Store.ListExpired(ctx, now, s.BatchSize)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"module": "sweeper", "error": err.Error()}).
			Error("failed to list expired reservations")
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	expired := 0
	for _, r := range due {
		if _, err := s.Manager.ExpireReservation(ctx, r.Code); err != nil {
			// Already confirmed or released by a racing caller is a
			// non-event; anything else is logged and the pass moves on.
			var stateErr *models.InvalidStateError
			if errors.As(err, &stateErr) {
				continue
			}
			s.Logger.WithFields(logrus.Fields{
				"module":      "sweeper",
				"reservation": r.Code,
				"sku":         r.Sku,
				"error":       err.Error(),
			}).Error("failed to expire reservation")
			continue
		}
		expired++
	}

	s.Logger.WithFields(logrus.Fields{
		"module":  "sweeper",
		"due":     len(due),
		"expired": expired,
	}).Info("expiration sweep finished")
	return expired
}
