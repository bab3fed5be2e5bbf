// Package lot owns the customs-lot ledger: one row per MRN intake per
// tank, carrying the remaining volume and mass of that declaration batch.
// The lot table is the durable source of truth; fully consumed lots stay
// at remaining zero for audit.
package lot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/internal/tank"
)

// Lot is one customs declaration batch inside a single tank. The same MRN
// string may appear in several tanks when a declaration was split, but a
// lot row never spans tanks.
type Lot struct {
	ID              int64
	TankKind        tank.Kind
	TankID          int64
	MRN             string
	OriginalLiters  decimal.Decimal
	OriginalKg      decimal.Decimal
	RemainingLiters decimal.Decimal
	RemainingKg     decimal.Decimal
	Density         decimal.Decimal // kg/L, fixed at intake
	ReceivedAt      time.Time       // defines FIFO order
	CreatedAt       time.Time
}

// Active reports whether the lot still holds issuable fuel. A lot with
// zero mass but positive volume is the degenerate state the exchange
// service repairs; it is not issuable.
func (l *Lot) Active() bool {
	return l.RemainingKg.IsPositive()
}

// ErrNotFound is returned when a lot does not exist.
var ErrNotFound = errors.New("lot not found")

// Store reads and writes customs lots.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const lotColumns = `id, tank_kind, tank_id, mrn, original_liters, original_kg,
	remaining_liters, remaining_kg, density, received_at, created_at`

func scanLot(scan func(dest ...interface{}) error) (*Lot, error) {
	var l Lot
	err := scan(&l.ID, &l.TankKind, &l.TankID, &l.MRN,
		&l.OriginalLiters, &l.OriginalKg,
		&l.RemainingLiters, &l.RemainingKg,
		&l.Density, &l.ReceivedAt, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lot: %w", err)
	}
	return &l, nil
}

// Create inserts an intake lot and returns its id.
func (s *Store) Create(ctx context.Context, tx *sql.Tx, l *Lot) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO customs_lots
		   (tank_kind, tank_id, mrn, original_liters, original_kg,
		    remaining_liters, remaining_kg, density, received_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		l.TankKind, l.TankID, l.MRN, l.OriginalLiters, l.OriginalKg,
		l.RemainingLiters, l.RemainingKg, l.Density, l.ReceivedAt, l.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create lot: %w", err)
	}
	return id, nil
}

// Get loads a single lot.
func (s *Store) Get(ctx context.Context, id int64) (*Lot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM customs_lots WHERE id = $1`, id)
	return scanLot(row.Scan)
}

// GetForUpdate loads a single lot under a row lock.
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*Lot, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM customs_lots WHERE id = $1 FOR UPDATE`, id)
	return scanLot(row.Scan)
}

// ListActiveForUpdate returns a tank's active lots in FIFO order under row
// locks. Intake timestamp orders the queue; id is the stable tie-break so
// replays of the same state allocate identically.
func (s *Store) ListActiveForUpdate(ctx context.Context, tx *sql.Tx, ref tank.Ref) ([]Lot, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+lotColumns+`
		 FROM customs_lots
		 WHERE tank_kind = $1 AND tank_id = $2 AND remaining_kg > 0
		 ORDER BY received_at, id
		 FOR UPDATE`,
		ref.Kind, ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active lots: %w", err)
	}
	return collectLots(rows)
}

// ListActive is the read-only FIFO listing used by views and density info.
func (s *Store) ListActive(ctx context.Context, ref tank.Ref) ([]Lot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lotColumns+`
		 FROM customs_lots
		 WHERE tank_kind = $1 AND tank_id = $2 AND remaining_kg > 0
		 ORDER BY received_at, id`,
		ref.Kind, ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active lots: %w", err)
	}
	return collectLots(rows)
}

func collectLots(rows *sql.Rows) ([]Lot, error) {
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows.Scan)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lots: %w", err)
	}
	return lots, nil
}

// Sums holds the lot-derived totals for one tank.
type Sums struct {
	Kg       decimal.Decimal
	Liters   decimal.Decimal
	LotCount int
}

// ActiveSums totals the remaining quantities of a tank's active lots.
func (s *Store) ActiveSums(ctx context.Context, ref tank.Ref) (Sums, error) {
	return activeSums(ctx, s.db, ref)
}

// ActiveSumsTx is ActiveSums inside the caller's transaction, so
// reconciliation reads the same snapshot it overwrites the tank from.
func (s *Store) ActiveSumsTx(ctx context.Context, tx *sql.Tx, ref tank.Ref) (Sums, error) {
	return activeSums(ctx, tx, ref)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func activeSums(ctx context.Context, q querier, ref tank.Ref) (Sums, error) {
	var sums Sums
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(remaining_kg), 0),
		        COALESCE(SUM(remaining_liters), 0),
		        COUNT(*)
		 FROM customs_lots
		 WHERE tank_kind = $1 AND tank_id = $2 AND remaining_kg > 0`,
		ref.Kind, ref.ID,
	).Scan(&sums.Kg, &sums.Liters, &sums.LotCount)
	if err != nil {
		return Sums{}, fmt.Errorf("failed to sum active lots: %w", err)
	}
	return sums, nil
}

// OldestActiveFixedForUpdate finds the system-wide oldest active lot in
// any fixed tank and locks it. The lock happens at selection time so two
// concurrent exchanges cannot pick the same donor.
func (s *Store) OldestActiveFixedForUpdate(ctx context.Context, tx *sql.Tx) (*Lot, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+lotColumns+`
		 FROM customs_lots
		 WHERE tank_kind = $1 AND remaining_kg > 0
		 ORDER BY received_at, id
		 LIMIT 1
		 FOR UPDATE`,
		tank.KindFixed,
	)
	return scanLot(row.Scan)
}

// SetRemaining writes a lot's remaining quantities inside the caller's
// transaction. Remaining values only shrink through consumption; corrective
// services (exchange) are the exception and use the same write path.
func (s *Store) SetRemaining(ctx context.Context, tx *sql.Tx, id int64, liters, kg decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE customs_lots SET remaining_liters = $1, remaining_kg = $2 WHERE id = $3`,
		liters, kg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot remaining: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
