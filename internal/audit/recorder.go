// Package audit persists transaction legs and fans results out to the
// event sink. Legs are the append-only trail every lot mutation leaves
// behind: written inside the mutating transaction, published to NATS after
// commit, and summarized to InfluxDB as drift trend data.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/shopspring/decimal"

	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/messaging"
)

// Operation names recorded on legs.
const (
	OpIntake          = "intake"
	OpFIFOAllocation  = "fifo_allocation"
	OpReconciliation  = "reconciliation"
	OpExchangeRemoval = "excess_exchange_out"
	OpExchangeAbsorb  = "excess_exchange_in"
	OpReserveDispense = "reserve_dispense"
)

// Leg is one immutable audit record: fuel taken from (negative) or added
// to (positive) a single customs lot by one operation.
type Leg struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	Operation     string
	TankKind      tank.Kind
	TankID        int64
	LotID         int64
	MRN           string
	Liters        decimal.Decimal
	Kilograms     decimal.Decimal
	Density       decimal.Decimal
	Variance      decimal.Decimal
	FullyConsumed bool
	CreatedAt     time.Time
}

// Recorder writes legs and emits audit events. Both the messaging client
// and the metrics writer may be nil; persistence is the only mandatory
// side of the trail.
type Recorder struct {
	msg     *messaging.Client
	metrics api.WriteAPI
}

func NewRecorder(msg *messaging.Client, metrics api.WriteAPI) *Recorder {
	return &Recorder{msg: msg, metrics: metrics}
}

// InsertLeg appends a leg inside the caller's transaction, so the leg is
// visible exactly when the mutation it describes is.
func (r *Recorder) InsertLeg(ctx context.Context, tx *sql.Tx, leg *Leg) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transaction_legs
		   (id, correlation_id, operation, tank_kind, tank_id, lot_id, mrn,
		    liters, kilograms, density, variance, fully_consumed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		leg.ID, leg.CorrelationID, leg.Operation, leg.TankKind, leg.TankID,
		leg.LotID, leg.MRN, leg.Liters, leg.Kilograms, leg.Density,
		leg.Variance, leg.FullyConsumed, leg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction leg: %w", err)
	}
	return nil
}

// PublishLegs emits leg events after the owning transaction committed.
func (r *Recorder) PublishLegs(ctx context.Context, legs []Leg) {
	if r == nil {
		return
	}
	for i := range legs {
		leg := &legs[i]
		ev := messaging.LegEvent{
			LegID:         leg.ID,
			CorrelationID: leg.CorrelationID,
			Operation:     leg.Operation,
			TankKind:      string(leg.TankKind),
			TankID:        leg.TankID,
			LotID:         leg.LotID,
			MRN:           leg.MRN,
			Liters:        leg.Liters.String(),
			Kilograms:     leg.Kilograms.String(),
			Density:       leg.Density.String(),
			Variance:      leg.Variance.String(),
			FullyConsumed: leg.FullyConsumed,
			Timestamp:     leg.CreatedAt,
		}
		if err := r.msg.Publish(ctx, messaging.SubjectLeg, ev); err != nil {
			log.Printf("audit: failed to publish leg %s: %v", leg.ID, err)
		}
	}
}

// PublishReconcile emits one tank's reconciliation outcome and records the
// adjustment magnitude as a drift metric.
func (r *Recorder) PublishReconcile(ctx context.Context, ev messaging.ReconcileEvent, adjustmentKg decimal.Decimal) {
	if r == nil {
		return
	}
	if err := r.msg.Publish(ctx, messaging.SubjectReconcile, ev); err != nil {
		log.Printf("audit: failed to publish reconcile event: %v", err)
	}

	if r.metrics != nil {
		// Trend data only; float precision is acceptable here.
		adj, _ := adjustmentKg.Abs().Float64()
		p := influxdb2.NewPoint("reconciliation_drift",
			map[string]string{"tank_kind": ev.TankKind, "tank_id": fmt.Sprint(ev.TankID)},
			map[string]interface{}{"adjustment_kg": adj},
			ev.Timestamp,
		)
		r.metrics.WritePoint(p)
	}
}

// PublishExchange emits an excess-fuel exchange event.
func (r *Recorder) PublishExchange(ctx context.Context, ev messaging.ExchangeEvent) {
	if r == nil {
		return
	}
	if err := r.msg.Publish(ctx, messaging.SubjectExchange, ev); err != nil {
		log.Printf("audit: failed to publish exchange event: %v", err)
	}
}

// PublishReserveDispense emits a reserve dispense event.
func (r *Recorder) PublishReserveDispense(ctx context.Context, ev messaging.ReserveDispenseEvent) {
	if r == nil {
		return
	}
	if err := r.msg.Publish(ctx, messaging.SubjectReserveDispense, ev); err != nil {
		log.Printf("audit: failed to publish reserve dispense event: %v", err)
	}
}

// RecordVariation writes a density-variation measurement as trend data.
func (r *Recorder) RecordVariation(ref tank.Ref, variationPercent decimal.Decimal, action string, at time.Time) {
	if r == nil || r.metrics == nil {
		return
	}
	v, _ := variationPercent.Float64()
	p := influxdb2.NewPoint("density_variation",
		map[string]string{"tank_kind": string(ref.Kind), "tank_id": fmt.Sprint(ref.ID), "action": action},
		map[string]interface{}{"variation_percent": v},
		at,
	)
	r.metrics.WritePoint(p)
}
