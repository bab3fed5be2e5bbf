// Package exchange repairs the degenerate lot state where repeated
// density rounding has depleted a lot's declared mass while volume
// remains: zero kilograms, positive liters. The orphaned volume is moved
// into the system-wide oldest active fixed-tank lot, which donates its
// density, so total mass is conserved on both sides.
package exchange

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
	"github.com/fueldock/fuelcore/pkg/messaging"
	"github.com/fueldock/fuelcore/pkg/retry"
)

var (
	// ErrNoEligibleDonor means no active fixed-tank lot exists anywhere to
	// absorb the orphaned volume. The exchange cannot complete and must be
	// handled by an operator; it is not retried.
	ErrNoEligibleDonor = errors.New("no eligible donor lot in any fixed tank")

	// ErrInsufficientExcess means the source lot holds fewer liters than
	// the requested exchange amount.
	ErrInsufficientExcess = errors.New("source lot has insufficient excess liters")

	// ErrSourceNotExcess means the source lot still has declared mass and
	// is therefore not in the zero-kg anomaly this service repairs.
	ErrSourceNotExcess = errors.New("source lot still has remaining mass")

	// ErrLotMismatch means the lot does not belong to the given tank or
	// carries a different MRN than the caller named.
	ErrLotMismatch = errors.New("lot does not match tank or MRN")
)

// Result describes a completed exchange.
type Result struct {
	CorrelationID  uuid.UUID       `json:"correlation_id"`
	SourceLotID    int64           `json:"source_lot_id"`
	SourceMRN      string          `json:"source_mrn"`
	DonorTank      tank.Ref        `json:"donor_tank"`
	DonorLotID     int64           `json:"donor_lot_id"`
	DonorMRN       string          `json:"donor_mrn"`
	Liters         decimal.Decimal `json:"liters"`
	KgAbsorbed     decimal.Decimal `json:"kg_absorbed"`
	DensityApplied decimal.Decimal `json:"density_applied"`
}

// Service executes excess fuel exchanges.
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

// Exchange moves excessLiters of orphaned volume from the source lot into
// the oldest active fixed-tank lot. densityOverride, when non-nil,
// replaces the donor's intake density for the mass credit; the donor's
// stored density is never modified. Both sides mutate in one transaction.
func (s *Service) Exchange(ctx context.Context, source tank.Ref, sourceLotID int64, sourceMRN string, excessLiters decimal.Decimal, densityOverride *decimal.Decimal) (Result, []audit.Leg, error) {
	if !excessLiters.IsPositive() {
		return Result{}, nil, fmt.Errorf("excess liters must be positive, got %s", excessLiters)
	}

	var (
		res  Result
		legs []audit.Leg
	)
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		var err error
		res, legs, err = s.exchangeOnce(ctx, source, sourceLotID, sourceMRN, excessLiters, densityOverride)
		return err
	})
	if err != nil {
		return Result{}, nil, err
	}

	s.audit.PublishLegs(ctx, legs)
	s.audit.PublishExchange(ctx, messaging.ExchangeEvent{
		CorrelationID:     res.CorrelationID,
		SourceTankKind:    string(source.Kind),
		SourceTankID:      source.ID,
		SourceLotID:       res.SourceLotID,
		SourceMRN:         res.SourceMRN,
		DonorTankID:       res.DonorTank.ID,
		DonorLotID:        res.DonorLotID,
		DonorMRN:          res.DonorMRN,
		Liters:            res.Liters.String(),
		KilogramsAbsorbed: res.KgAbsorbed.String(),
		DensityApplied:    res.DensityApplied.String(),
		Timestamp:         s.now(),
	})

	return res, legs, nil
}

func (s *Service) exchangeOnce(ctx context.Context, source tank.Ref, sourceLotID int64, sourceMRN string, excessLiters decimal.Decimal, densityOverride *decimal.Decimal) (Result, []audit.Leg, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	src, err := s.lots.GetForUpdate(ctx, tx, sourceLotID)
	if err != nil {
		return Result{}, nil, err
	}

	// The donor row is locked at selection time so two concurrent
	// exchanges cannot both pick it.
	donor, err := s.lots.OldestActiveFixedForUpdate(ctx, tx)
	if err != nil {
		if !errors.Is(err, lot.ErrNotFound) {
			return Result{}, nil, err
		}
		donor = nil
	}

	mv, err := Plan(src, source, sourceMRN, donor, excessLiters, densityOverride)
	if err != nil {
		return Result{}, nil, err
	}

	if err := s.lots.SetRemaining(ctx, tx, src.ID, mv.SourceNewLiters, decimal.Zero); err != nil {
		return Result{}, nil, err
	}
	if err := s.lots.SetRemaining(ctx, tx, donor.ID, mv.DonorNewLiters, mv.DonorNewKg); err != nil {
		return Result{}, nil, err
	}

	now := s.now()
	donorRef := tank.Ref{Kind: donor.TankKind, ID: donor.TankID}

	// Tank caches move with their lots: the source loses volume only (its
	// mass side was already zero), the donor gains both dimensions.
	if err := s.tanks.ApplyDelta(ctx, tx, source, excessLiters.Neg(), decimal.Zero, now); err != nil {
		return Result{}, nil, err
	}
	if err := s.tanks.ApplyDelta(ctx, tx, donorRef, excessLiters, mv.KgAbsorbed, now); err != nil {
		return Result{}, nil, err
	}

	correlation := uuid.New()
	legs := []audit.Leg{
		{
			ID:            uuid.New(),
			CorrelationID: correlation,
			Operation:     audit.OpExchangeRemoval,
			TankKind:      source.Kind,
			TankID:        source.ID,
			LotID:         src.ID,
			MRN:           src.MRN,
			Liters:        excessLiters.Neg(),
			Kilograms:     decimal.Zero,
			Density:       mv.Density,
			FullyConsumed: mv.SourceDrained,
			CreatedAt:     now,
		},
		{
			ID:            uuid.New(),
			CorrelationID: correlation,
			Operation:     audit.OpExchangeAbsorb,
			TankKind:      donorRef.Kind,
			TankID:        donorRef.ID,
			LotID:         donor.ID,
			MRN:           donor.MRN,
			Liters:        excessLiters,
			Kilograms:     mv.KgAbsorbed,
			Density:       mv.Density,
			CreatedAt:     now,
		},
	}
	for i := range legs {
		if err := s.audit.InsertLeg(ctx, tx, &legs[i]); err != nil {
			return Result{}, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, nil, fmt.Errorf("failed to commit exchange: %w", err)
	}

	return Result{
		CorrelationID:  correlation,
		SourceLotID:    src.ID,
		SourceMRN:      src.MRN,
		DonorTank:      donorRef,
		DonorLotID:     donor.ID,
		DonorMRN:       donor.MRN,
		Liters:         excessLiters,
		KgAbsorbed:     mv.KgAbsorbed,
		DensityApplied: mv.Density,
	}, legs, nil
}
