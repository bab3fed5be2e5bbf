// Package tank owns the authoritative tank quantities. The stored
// current_liters/current_kg pair is a cache over the lot ledger: fast to
// read, allowed to drift, and periodically overwritten by reconciliation
// with the sum of active lots.
package tank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of tank variants. Fixed tanks are depot storage;
// mobile tanks are refueller trucks. Each kind maps to its own table, which
// is the only place the distinction lives.
type Kind string

const (
	KindFixed  Kind = "fixed"
	KindMobile Kind = "mobile"
)

// ParseKind validates a kind string from an external caller.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFixed, KindMobile:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown tank kind %q", s)
	}
}

func (k Kind) table() string {
	if k == KindMobile {
		return "mobile_tanks"
	}
	return "fixed_tanks"
}

// Ref identifies one tank. Ids are only unique within a kind.
type Ref struct {
	Kind Kind
	ID   int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// Tank is a storage or mobile fuel tank.
type Tank struct {
	ID             int64
	Kind           Kind
	Name           string
	FuelType       string
	CapacityLiters decimal.Decimal
	CurrentLiters  decimal.Decimal
	CurrentKg      decimal.Decimal
	Status         string
	UpdatedAt      time.Time
}

// ErrNotFound is returned when a tank does not exist.
var ErrNotFound = errors.New("tank not found")

// Store reads and writes tanks.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const tankColumns = `id, name, fuel_type, capacity_liters, current_liters, current_kg, status, updated_at`

func scanTank(row *sql.Row, kind Kind) (*Tank, error) {
	var t Tank
	err := row.Scan(&t.ID, &t.Name, &t.FuelType, &t.CapacityLiters,
		&t.CurrentLiters, &t.CurrentKg, &t.Status, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tank: %w", err)
	}
	t.Kind = kind
	return &t, nil
}

// Get loads a tank outside any transaction.
func (s *Store) Get(ctx context.Context, ref Ref) (*Tank, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, tankColumns, ref.Kind.table()),
		ref.ID,
	)
	return scanTank(row, ref.Kind)
}

// GetForUpdate loads a tank under a row lock. Every operation that will
// touch the tank's lot set locks the tank row first, which serializes
// concurrent FIFO allocations against the same tank.
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, ref Ref) (*Tank, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, tankColumns, ref.Kind.table()),
		ref.ID,
	)
	return scanTank(row, ref.Kind)
}

// ListActive returns all tanks in active status across both kinds,
// fixed first.
func (s *Store) ListActive(ctx context.Context) ([]Tank, error) {
	var tanks []Tank
	for _, kind := range []Kind{KindFixed, KindMobile} {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE status = 'active' ORDER BY id`, tankColumns, kind.table()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s tanks: %w", kind, err)
		}

		for rows.Next() {
			var t Tank
			if err := rows.Scan(&t.ID, &t.Name, &t.FuelType, &t.CapacityLiters,
				&t.CurrentLiters, &t.CurrentKg, &t.Status, &t.UpdatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan tank: %w", err)
			}
			t.Kind = kind
			tanks = append(tanks, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to list %s tanks: %w", kind, err)
		}
	}
	return tanks, nil
}

// ApplyDelta adjusts the authoritative quantity inside the caller's
// transaction. Deltas are signed; consuming operations pass negatives.
func (s *Store) ApplyDelta(ctx context.Context, tx *sql.Tx, ref Ref, dLiters, dKg decimal.Decimal, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET current_liters = current_liters + $1,
		     current_kg = current_kg + $2,
		     updated_at = $3
		 WHERE id = $4`, ref.Kind.table()),
		dLiters, dKg, now, ref.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply tank delta: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetQuantities overwrites the authoritative quantity. Used by
// reconciliation, which replaces the cache with the lot-derived sums.
func (s *Store) SetQuantities(ctx context.Context, tx *sql.Tx, ref Ref, liters, kg decimal.Decimal, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET current_liters = $1, current_kg = $2, updated_at = $3
		 WHERE id = $4`, ref.Kind.table()),
		liters, kg, now, ref.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to set tank quantities: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
