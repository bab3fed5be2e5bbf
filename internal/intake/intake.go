// Package intake registers MRN arrivals: each intake creates one customs
// lot in the receiving tank and credits the tank's authoritative quantity
// in the same transaction.
package intake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/internal/audit"
	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/quantity"
	"github.com/fueldock/fuelcore/pkg/retry"
)

// ErrOverCapacity rejects an intake that would push the tank above its
// rated capacity.
var ErrOverCapacity = errors.New("intake exceeds tank capacity")

// Service registers intakes.
type Service struct {
	db    *sql.DB
	tanks *tank.Store
	lots  *lot.Store
	audit *audit.Recorder
	now   func() time.Time
}

func NewService(db *sql.DB, tanks *tank.Store, lots *lot.Store, rec *audit.Recorder) *Service {
	return &Service{db: db, tanks: tanks, lots: lots, audit: rec, now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a lot for an MRN intake. The declared volume and the
// intake density fix the lot's mass for its whole lifetime; every later
// conversion against this lot uses this density.
func (s *Service) Register(ctx context.Context, ref tank.Ref, mrn string, liters, density decimal.Decimal, receivedAt time.Time) (*lot.Lot, error) {
	if mrn == "" {
		return nil, fmt.Errorf("mrn must not be empty")
	}

	var created *lot.Lot
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		var err error
		created, err = s.registerOnce(ctx, ref, mrn, liters, density, receivedAt)
		return err
	})
	return created, err
}

func (s *Service) registerOnce(ctx context.Context, ref tank.Ref, mrn string, liters, density decimal.Decimal, receivedAt time.Time) (*lot.Lot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := s.tanks.GetForUpdate(ctx, tx, ref)
	if err != nil {
		return nil, err
	}
	if t.CurrentLiters.Add(liters).GreaterThan(t.CapacityLiters) {
		return nil, fmt.Errorf("%w: %s + %s L > %s L",
			ErrOverCapacity, t.CurrentLiters, liters, t.CapacityLiters)
	}

	now := s.now()
	if receivedAt.IsZero() {
		receivedAt = now
	}
	kg := quantity.MassOf(liters, density)

	l := &lot.Lot{
		TankKind:        ref.Kind,
		TankID:          ref.ID,
		MRN:             mrn,
		OriginalLiters:  liters,
		OriginalKg:      kg,
		RemainingLiters: liters,
		RemainingKg:     kg,
		Density:         density,
		ReceivedAt:      receivedAt,
		CreatedAt:       now,
	}

	l.ID, err = s.lots.Create(ctx, tx, l)
	if err != nil {
		return nil, err
	}

	if err := s.tanks.ApplyDelta(ctx, tx, ref, liters, kg, now); err != nil {
		return nil, err
	}

	leg := audit.Leg{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Operation:     audit.OpIntake,
		TankKind:      ref.Kind,
		TankID:        ref.ID,
		LotID:         l.ID,
		MRN:           mrn,
		Liters:        liters,
		Kilograms:     kg,
		Density:       density,
		Variance:      decimal.Zero,
		CreatedAt:     now,
	}
	if err := s.audit.InsertLeg(ctx, tx, &leg); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit intake: %w", err)
	}

	s.audit.PublishLegs(ctx, []audit.Leg{leg})
	return l, nil
}
