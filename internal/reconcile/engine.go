// Package reconcile eliminates drift between a tank's authoritative
// quantity and the sum of its active customs lots. The lot table is the
// durable truth; reconciliation overwrites the tank cache with the
// lot-derived sums and logs the before/after delta.
package reconcile

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
	"github.com/fueldock/fuelcore/pkg/messaging"
	"github.com/fueldock/fuelcore/pkg/retry"
)

// Result is the outcome of reconciling one tank. Idempotent by
// construction: a second run with no intervening activity reports zero
// adjustments.
type Result struct {
	TankKind         tank.Kind       `json:"tank_kind"`
	TankID           int64           `json:"tank_id"`
	BeforeKg         decimal.Decimal `json:"before_kg"`
	AfterKg          decimal.Decimal `json:"after_kg"`
	BeforeLiters     decimal.Decimal `json:"before_liters"`
	AfterLiters      decimal.Decimal `json:"after_liters"`
	AdjustmentKg     decimal.Decimal `json:"adjustment_kg"`
	AdjustmentLiters decimal.Decimal `json:"adjustment_liters"`
	Success          bool            `json:"success"`
	Details          string          `json:"details,omitempty"`
}

// Severity classifies the absolute kg drift of one tank.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

var (
	mediumDriftKg = decimal.NewFromInt(50)
	highDriftKg   = decimal.NewFromInt(500)
)

// ClassifyDrift maps an absolute kg drift onto a severity tier.
func ClassifyDrift(absDriftKg decimal.Decimal) Severity {
	switch {
	case absDriftKg.LessThan(mediumDriftKg):
		return SeverityLow
	case absDriftKg.LessThan(highDriftKg):
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// newResult records the overwrite of a tank's authoritative quantities
// with its lot sums. A tank already carrying the sums yields zero
// adjustments, which is what makes reconciliation idempotent.
func newResult(ref tank.Ref, t *tank.Tank, sums lot.Sums) Result {
	return Result{
		TankKind:         ref.Kind,
		TankID:           ref.ID,
		BeforeKg:         t.CurrentKg,
		AfterKg:          sums.Kg,
		BeforeLiters:     t.CurrentLiters,
		AfterLiters:      sums.Liters,
		AdjustmentKg:     sums.Kg.Sub(t.CurrentKg),
		AdjustmentLiters: sums.Liters.Sub(t.CurrentLiters),
		Success:          true,
		Details:          fmt.Sprintf("summed %d active lots", sums.LotCount),
	}
}

// Engine runs reconciliations and drift diagnostics.
type Engine struct {
	db    *sql.DB
	tanks *tank.Store
	lots  *lot.Store
	audit *audit.Recorder
	now   func() time.Time
}

func NewEngine(db *sql.DB, tanks *tank.Store, lots *lot.Store, rec *audit.Recorder) *Engine {
	return &Engine{db: db, tanks: tanks, lots: lots, audit: rec, now: time.Now}
}

// WithClock overrides the timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ReconcileTank overwrites one tank's authoritative kg/liters with the sum
// of its active lots, inside a single transaction, and returns the full
// before/after record.
func (e *Engine) ReconcileTank(ctx context.Context, ref tank.Ref) (Result, error) {
	var res Result
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		var err error
		res, err = e.reconcileOnce(ctx, ref)
		return err
	})
	if err != nil {
		return Result{TankKind: ref.Kind, TankID: ref.ID, Details: err.Error()}, err
	}

	e.audit.PublishReconcile(ctx, messaging.ReconcileEvent{
		TankKind:         string(res.TankKind),
		TankID:           res.TankID,
		BeforeKg:         res.BeforeKg.String(),
		AfterKg:          res.AfterKg.String(),
		BeforeLiters:     res.BeforeLiters.String(),
		AfterLiters:      res.AfterLiters.String(),
		AdjustmentKg:     res.AdjustmentKg.String(),
		AdjustmentLiters: res.AdjustmentLiters.String(),
		Success:          true,
		Timestamp:        e.now(),
	}, res.AdjustmentKg)

	return res, nil
}

func (e *Engine) reconcileOnce(ctx context.Context, ref tank.Ref) (Result, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := e.tanks.GetForUpdate(ctx, tx, ref)
	if err != nil {
		return Result{}, err
	}

	sums, err := e.lots.ActiveSumsTx(ctx, tx, ref)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	res := newResult(ref, t, sums)

	if err := e.tanks.SetQuantities(ctx, tx, ref, sums.Liters, sums.Kg, now); err != nil {
		return Result{}, err
	}

	// The reconciliation is itself a leg in the audit trail; lot id zero
	// marks a tank-level correction.
	leg := audit.Leg{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Operation:     audit.OpReconciliation,
		TankKind:      ref.Kind,
		TankID:        ref.ID,
		Liters:        res.AdjustmentLiters,
		Kilograms:     res.AdjustmentKg,
		Density:       decimal.Zero,
		Variance:      res.AdjustmentKg,
		CreatedAt:     now,
	}
	if err := e.audit.InsertLeg(ctx, tx, &leg); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	return res, nil
}

// ReconcileAll reconciles every active tank. Each tank runs in its own
// transaction and a failure is reported in that tank's result without
// aborting the rest, so a crashed or partial batch is safe to re-run.
func (e *Engine) ReconcileAll(ctx context.Context) ([]Result, error) {
	tanks, err := e.tanks.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(tanks))
	for _, t := range tanks {
		ref := tank.Ref{Kind: t.Kind, ID: t.ID}
		res, err := e.ReconcileTank(ctx, ref)
		if err != nil {
			res = Result{
				TankKind: ref.Kind,
				TankID:   ref.ID,
				Success:  false,
				Details:  err.Error(),
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// TankDrift is one tank's row in the analysis report.
type TankDrift struct {
	TankKind        tank.Kind       `json:"tank_kind"`
	TankID          int64           `json:"tank_id"`
	Name            string          `json:"name"`
	AuthoritativeKg decimal.Decimal `json:"authoritative_kg"`
	LotSumKg        decimal.Decimal `json:"lot_sum_kg"`
	DriftKg         decimal.Decimal `json:"drift_kg"`
	LotCount        int             `json:"lot_count"`
	Severity        Severity        `json:"severity"`
}

// Report is the read-only drift diagnostic over all active tanks.
type Report struct {
	GeneratedAt     time.Time   `json:"generated_at"`
	TankCount       int         `json:"tank_count"`
	TanksWithIssues int         `json:"tanks_with_issues"`
	Tanks           []TankDrift `json:"tanks"`
}

// AnalysisReport compares every active tank's authoritative kg against its
// lot sum. Mutates nothing.
func (e *Engine) AnalysisReport(ctx context.Context) (Report, error) {
	tanks, err := e.tanks.ListActive(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		GeneratedAt: e.now(),
		TankCount:   len(tanks),
		Tanks:       make([]TankDrift, 0, len(tanks)),
	}

	for _, t := range tanks {
		sums, err := e.lots.ActiveSums(ctx, tank.Ref{Kind: t.Kind, ID: t.ID})
		if err != nil {
			return Report{}, err
		}

		drift := t.CurrentKg.Sub(sums.Kg).Abs()
		severity := ClassifyDrift(drift)
		if severity == SeverityHigh {
			report.TanksWithIssues++
		}

		report.Tanks = append(report.Tanks, TankDrift{
			TankKind:        t.Kind,
			TankID:          t.ID,
			Name:            t.Name,
			AuthoritativeKg: t.CurrentKg,
			LotSumKg:        sums.Kg,
			DriftKg:         drift,
			LotCount:        sums.LotCount,
			Severity:        severity,
		})
	}

	return report, nil
}
