package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Audit subjects.
const (
	SubjectLeg             = "fuel.leg"
	SubjectReconcile       = "fuel.reconcile"
	SubjectExchange        = "fuel.exchange"
	SubjectReserveDispense = "fuel.reserve.dispense"
)

// LegEvent mirrors one transaction leg: fuel taken from or added to a
// single customs lot. Quantities are decimal strings to keep exact values
// on the wire.
type LegEvent struct {
	LegID         uuid.UUID `json:"leg_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Operation     string    `json:"operation"`
	TankKind      string    `json:"tank_kind"`
	TankID        int64     `json:"tank_id"`
	LotID         int64     `json:"lot_id"`
	MRN           string    `json:"mrn"`
	Liters        string    `json:"liters"`
	Kilograms     string    `json:"kilograms"`
	Density       string    `json:"density"`
	Variance      string    `json:"variance,omitempty"`
	FullyConsumed bool      `json:"fully_consumed"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReconcileEvent reports one tank's reconciliation outcome.
type ReconcileEvent struct {
	TankKind         string    `json:"tank_kind"`
	TankID           int64     `json:"tank_id"`
	BeforeKg         string    `json:"before_kg"`
	AfterKg          string    `json:"after_kg"`
	BeforeLiters     string    `json:"before_liters"`
	AfterLiters      string    `json:"after_liters"`
	AdjustmentKg     string    `json:"adjustment_kg"`
	AdjustmentLiters string    `json:"adjustment_liters"`
	Success          bool      `json:"success"`
	Details          string    `json:"details,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// ExchangeEvent pairs the two legs of an excess fuel exchange under one
// correlation id so audit views can render them as a single movement.
type ExchangeEvent struct {
	CorrelationID     uuid.UUID `json:"correlation_id"`
	SourceTankKind    string    `json:"source_tank_kind"`
	SourceTankID      int64     `json:"source_tank_id"`
	SourceLotID       int64     `json:"source_lot_id"`
	SourceMRN         string    `json:"source_mrn"`
	DonorTankID       int64     `json:"donor_tank_id"`
	DonorLotID        int64     `json:"donor_lot_id"`
	DonorMRN          string    `json:"donor_mrn"`
	Liters            string    `json:"liters"`
	KilogramsAbsorbed string    `json:"kilograms_absorbed"`
	DensityApplied    string    `json:"density_applied"`
	Timestamp         time.Time `json:"timestamp"`
}

// ReserveDispenseEvent reports a reserve-fuel dispense.
type ReserveDispenseEvent struct {
	TankKind    string    `json:"tank_kind"`
	TankID      int64     `json:"tank_id"`
	Liters      string    `json:"liters"`
	EntriesUsed int       `json:"entries_used"`
	DispensedBy string    `json:"dispensed_by,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
