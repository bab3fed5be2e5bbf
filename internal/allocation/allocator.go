// Package allocation removes fuel from a tank's customs lots in
// first-in-first-out order. One allocation is one database transaction:
// the tank row is locked first, active lots are locked in FIFO order, the
// draws are planned, and lot decrements, the tank decrement and the audit
// legs all commit together or not at all.
package allocation

import (
	"context"
	"database/sql"
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

// Allocator executes FIFO allocations.
type Allocator struct {
	db    *sql.DB
	tanks *tank.Store
	lots  *lot.Store
	audit *audit.Recorder
	now   func() time.Time
}

func New(db *sql.DB, tanks *tank.Store, lots *lot.Store, rec *audit.Recorder) *Allocator {
	return &Allocator{
		db:    db,
		tanks: tanks,
		lots:  lots,
		audit: rec,
		now:   time.Now,
	}
}

// WithClock overrides the timestamp source.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// Allocate removes the requested amount from the tank's active lots,
// oldest intake first, and returns the legs describing exactly which lots
// were drawn and by how much. Serialization conflicts with concurrent
// operations on the same tank are retried as a whole.
func (a *Allocator) Allocate(ctx context.Context, ref tank.Ref, requested decimal.Decimal, unit quantity.Unit) ([]audit.Leg, error) {
	var legs []audit.Leg
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		var err error
		legs, err = a.allocateOnce(ctx, ref, requested, unit)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.audit.PublishLegs(ctx, legs)
	return legs, nil
}

func (a *Allocator) allocateOnce(ctx context.Context, ref tank.Ref, requested decimal.Decimal, unit quantity.Unit) ([]audit.Leg, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Locking the tank row serializes all lot-set mutations for this tank.
	if _, err := a.tanks.GetForUpdate(ctx, tx, ref); err != nil {
		return nil, err
	}

	lots, err := a.lots.ListActiveForUpdate(ctx, tx, ref)
	if err != nil {
		return nil, err
	}

	draws, err := Plan(lots, requested, unit)
	if err != nil {
		// Insufficient fuel mutates nothing: the deferred rollback is the
		// only effect.
		return nil, err
	}

	now := a.now()
	correlation := uuid.New()
	legs := make([]audit.Leg, 0, len(draws))

	for i := range draws {
		d := &draws[i]
		if err := a.lots.SetRemaining(ctx, tx, d.Lot.ID, d.NewLiters, d.NewKg); err != nil {
			return nil, err
		}

		legs = append(legs, audit.Leg{
			ID:            uuid.New(),
			CorrelationID: correlation,
			Operation:     audit.OpFIFOAllocation,
			TankKind:      ref.Kind,
			TankID:        ref.ID,
			LotID:         d.Lot.ID,
			MRN:           d.Lot.MRN,
			Liters:        d.Liters.Neg(),
			Kilograms:     d.Kg.Neg(),
			Density:       d.Lot.Density,
			Variance:      decimal.Zero,
			FullyConsumed: d.FullyConsumed,
			CreatedAt:     now,
		})
	}

	totalLiters, totalKg := Totals(draws)
	if err := a.tanks.ApplyDelta(ctx, tx, ref, totalLiters.Neg(), totalKg.Neg(), now); err != nil {
		return nil, err
	}

	for i := range legs {
		if err := a.audit.InsertLeg(ctx, tx, &legs[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit allocation: %w", err)
	}

	return legs, nil
}
