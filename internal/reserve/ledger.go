// Package reserve tracks fuel held back from a tank's normal issuance.
// Reserve entries form their own FIFO queue, dispensed with the same
// discipline as customs lots: oldest first, the boundary entry split
// exactly at the requested amount.
package reserve

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/internal/audit"
	"github.com/fueldock/fuelcore/internal/density"
	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/messaging"
	"github.com/fueldock/fuelcore/pkg/quantity"
	"github.com/fueldock/fuelcore/pkg/retry"
)

// Entry is one parcel of reserved fuel, tagged with the lot/MRN it was
// held back from.
type Entry struct {
	ID           int64
	TankKind     tank.Kind
	TankID       int64
	LotID        int64
	MRN          string
	Liters       decimal.Decimal
	Dispensed    bool
	DispensedAt  *time.Time
	DispensedBy  string
	OperationRef string
	CreatedAt    time.Time
}

// InsufficientReserveError reports that the undispensed reserve cannot
// cover the request. Nothing is partially fulfilled.
type InsufficientReserveError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientReserveError) Error() string {
	return fmt.Sprintf("insufficient reserve: requested %s L, available %s L",
		e.Requested, e.Available)
}

// Draw is one planned consumption of a reserve entry. A split draw
// consumes only part of the boundary entry; the remainder survives as a
// new undispensed entry keeping the original FIFO position.
type Draw struct {
	Entry           Entry
	Liters          decimal.Decimal
	Split           bool
	RemainderLiters decimal.Decimal
}

// PlanDispense walks undispensed entries in FIFO order and decides which
// are fully consumed and where the boundary splits. Pure.
func PlanDispense(entries []Entry, requested decimal.Decimal) ([]Draw, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("requested liters must be positive, got %s", requested)
	}

	remaining := requested
	available := decimal.Zero
	var draws []Draw

	for _, e := range entries {
		available = available.Add(e.Liters)
		if !remaining.IsPositive() {
			continue
		}

		take := quantity.Min(remaining, e.Liters)
		draws = append(draws, Draw{
			Entry:           e,
			Liters:          take,
			Split:           take.LessThan(e.Liters),
			RemainderLiters: e.Liters.Sub(take),
		})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, &InsufficientReserveError{Requested: requested, Available: available}
	}
	return draws, nil
}

// DispenseResult reports a completed reserve dispense.
type DispenseResult struct {
	Liters      decimal.Decimal `json:"liters"`
	EntriesUsed int             `json:"entries_used"`
	Splits      int             `json:"splits"`
}

// Ledger reads and mutates reserve entries.
type Ledger struct {
	db    *sql.DB
	tanks *tank.Store
	audit *audit.Recorder
	now   func() time.Time
}

func NewLedger(db *sql.DB, tanks *tank.Store, rec *audit.Recorder) *Ledger {
	return &Ledger{db: db, tanks: tanks, audit: rec, now: time.Now}
}

// WithClock overrides the timestamp source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// SetAside creates a reserve entry for fuel held back from issuance. The
// fuel stays in the tank and its lots; only dispensing moves quantities.
func (l *Ledger) SetAside(ctx context.Context, ref tank.Ref, lotID int64, mrn string, liters decimal.Decimal) (*Entry, error) {
	if !liters.IsPositive() {
		return nil, fmt.Errorf("reserve liters must be positive, got %s", liters)
	}

	e := &Entry{
		TankKind:  ref.Kind,
		TankID:    ref.ID,
		LotID:     lotID,
		MRN:       mrn,
		Liters:    liters,
		CreatedAt: l.now(),
	}
	err := l.db.QueryRowContext(ctx,
		`INSERT INTO reserve_entries (tank_kind, tank_id, lot_id, mrn, liters, dispensed, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)
		 RETURNING id`,
		e.TankKind, e.TankID, e.LotID, e.MRN, e.Liters, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create reserve entry: %w", err)
	}
	return e, nil
}

// Dispense draws the requested liters from the tank's undispensed reserve
// entries oldest-first and decrements the tank's authoritative liters by
// the total, all in one transaction.
func (l *Ledger) Dispense(ctx context.Context, ref tank.Ref, liters decimal.Decimal, dispensedBy, reference string) (DispenseResult, error) {
	var (
		res  DispenseResult
		legs []audit.Leg
	)
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		var err error
		res, legs, err = l.dispenseOnce(ctx, ref, liters, dispensedBy, reference)
		return err
	})
	if err != nil {
		return DispenseResult{}, err
	}

	l.audit.PublishLegs(ctx, legs)
	l.audit.PublishReserveDispense(ctx, messaging.ReserveDispenseEvent{
		TankKind:    string(ref.Kind),
		TankID:      ref.ID,
		Liters:      res.Liters.String(),
		EntriesUsed: res.EntriesUsed,
		DispensedBy: dispensedBy,
		Reference:   reference,
		Timestamp:   l.now(),
	})
	return res, nil
}

func (l *Ledger) dispenseOnce(ctx context.Context, ref tank.Ref, liters decimal.Decimal, dispensedBy, reference string) (DispenseResult, []audit.Leg, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return DispenseResult{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := l.tanks.GetForUpdate(ctx, tx, ref); err != nil {
		return DispenseResult{}, nil, err
	}

	entries, err := listUndispensedForUpdate(ctx, tx, ref)
	if err != nil {
		return DispenseResult{}, nil, err
	}

	draws, err := PlanDispense(entries, liters)
	if err != nil {
		return DispenseResult{}, nil, err
	}

	now := l.now()
	correlation := uuid.New()
	legs := make([]audit.Leg, 0, len(draws))
	splits := 0

	for _, d := range draws {
		if d.Split {
			// Rewrite the boundary entry to the dispensed portion and
			// carry the remainder in a fresh undispensed entry that keeps
			// the original created-at, so the queue order is unchanged.
			_, err = tx.ExecContext(ctx,
				`UPDATE reserve_entries
				 SET liters = $1, dispensed = true, dispensed_at = $2,
				     dispensed_by = $3, operation_ref = $4
				 WHERE id = $5`,
				d.Liters, now, dispensedBy, reference, d.Entry.ID,
			)
			if err == nil {
				_, err = tx.ExecContext(ctx,
					`INSERT INTO reserve_entries (tank_kind, tank_id, lot_id, mrn, liters, dispensed, created_at)
					 VALUES ($1, $2, $3, $4, $5, false, $6)`,
					d.Entry.TankKind, d.Entry.TankID, d.Entry.LotID, d.Entry.MRN,
					d.RemainderLiters, d.Entry.CreatedAt,
				)
			}
			splits++
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE reserve_entries
				 SET dispensed = true, dispensed_at = $1, dispensed_by = $2, operation_ref = $3
				 WHERE id = $4`,
				now, dispensedBy, reference, d.Entry.ID,
			)
		}
		if err != nil {
			return DispenseResult{}, nil, fmt.Errorf("failed to update reserve entry %d: %w", d.Entry.ID, err)
		}

		legs = append(legs, audit.Leg{
			ID:            uuid.New(),
			CorrelationID: correlation,
			Operation:     audit.OpReserveDispense,
			TankKind:      ref.Kind,
			TankID:        ref.ID,
			LotID:         d.Entry.LotID,
			MRN:           d.Entry.MRN,
			Liters:        d.Liters.Neg(),
			Kilograms:     decimal.Zero,
			Density:       decimal.Zero,
			FullyConsumed: !d.Split,
			CreatedAt:     now,
		})
	}

	// Reserve dispensing only moves volume; the mass side is settled by
	// the next reconciliation against the lot ledger.
	if err := l.tanks.ApplyDelta(ctx, tx, ref, liters.Neg(), decimal.Zero, now); err != nil {
		return DispenseResult{}, nil, err
	}

	for i := range legs {
		if err := l.audit.InsertLeg(ctx, tx, &legs[i]); err != nil {
			return DispenseResult{}, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return DispenseResult{}, nil, fmt.Errorf("failed to commit reserve dispense: %w", err)
	}

	return DispenseResult{Liters: liters, EntriesUsed: len(draws), Splits: splits}, legs, nil
}

func listUndispensedForUpdate(ctx context.Context, tx *sql.Tx, ref tank.Ref) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, tank_kind, tank_id, lot_id, mrn, liters, dispensed, created_at
		 FROM reserve_entries
		 WHERE tank_kind = $1 AND tank_id = $2 AND NOT dispensed
		 ORDER BY created_at, id
		 FOR UPDATE`,
		ref.Kind, ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reserve entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TankKind, &e.TankID, &e.LotID, &e.MRN,
			&e.Liters, &e.Dispensed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reserve entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reserve entries: %w", err)
	}
	return entries, nil
}

// SummaryRow aggregates the undispensed reserve for one tank kind.
type SummaryRow struct {
	TankKind    tank.Kind       `json:"tank_kind"`
	TotalLiters decimal.Decimal `json:"total_liters"`
	TotalKg     decimal.Decimal `json:"total_kg"`
	Count       int             `json:"count"`
}

// Summary is the reserve position grouped by tank kind.
type Summary struct {
	PerTankKind []SummaryRow    `json:"per_tank_kind"`
	TotalLiters decimal.Decimal `json:"total_liters"`
	TotalKg     decimal.Decimal `json:"total_kg"`
	TotalCount  int             `json:"total_count"`
}

// Summarize aggregates undispensed reserve entries grouped by tank kind.
// Mass is derived through each entry's originating lot density, falling
// back to the default when the lot is gone. Pure read.
func (l *Ledger) Summarize(ctx context.Context) (Summary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT r.tank_kind,
		        COALESCE(SUM(r.liters), 0),
		        COALESCE(SUM(r.liters * COALESCE(c.density, $1)), 0),
		        COUNT(*)
		 FROM reserve_entries r
		 LEFT JOIN customs_lots c ON c.id = r.lot_id
		 WHERE NOT r.dispensed
		 GROUP BY r.tank_kind
		 ORDER BY r.tank_kind`,
		density.Fallback,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize reserve: %w", err)
	}
	defer rows.Close()

	summary := Summary{
		TotalLiters: decimal.Zero,
		TotalKg:     decimal.Zero,
	}
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.TankKind, &row.TotalLiters, &row.TotalKg, &row.Count); err != nil {
			return Summary{}, fmt.Errorf("failed to scan reserve summary: %w", err)
		}
		summary.PerTankKind = append(summary.PerTankKind, row)
		summary.TotalLiters = summary.TotalLiters.Add(row.TotalLiters)
		summary.TotalKg = summary.TotalKg.Add(row.TotalKg)
		summary.TotalCount += row.Count
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("failed to read reserve summary: %w", err)
	}
	return summary, nil
}
