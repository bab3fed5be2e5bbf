// Package httpapi exposes the ledger operations over HTTP. Handlers are
// thin adapters: parse, call the core, map errors to status codes. The
// read-only diagnostics get a short redis cache and singleflight
// coalescing since they scan every tank.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/fueldock/fuelcore/internal/allocation"
	"github.com/fueldock/fuelcore/internal/audit"
	"github.com/fueldock/fuelcore/internal/density"
	"github.com/fueldock/fuelcore/internal/exchange"
	"github.com/fueldock/fuelcore/internal/intake"
	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/reconcile"
	"github.com/fueldock/fuelcore/internal/reserve"
	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/quantity"
	"github.com/fueldock/fuelcore/pkg/retry"
)

const cacheTTL = 10 * time.Second

// Server bundles the core services behind gin handlers.
type Server struct {
	tanks    *tank.Store
	lots     *lot.Store
	alloc    *allocation.Allocator
	intakes  *intake.Service
	recon    *reconcile.Engine
	exch     *exchange.Service
	reserves *reserve.Ledger
	rec      *audit.Recorder
	cache    *redis.Client
	flight   singleflight.Group
}

func NewServer(tanks *tank.Store, lots *lot.Store, alloc *allocation.Allocator,
	intakes *intake.Service, recon *reconcile.Engine, exch *exchange.Service,
	reserves *reserve.Ledger, rec *audit.Recorder, cache *redis.Client) *Server {
	return &Server{
		tanks:    tanks,
		lots:     lots,
		alloc:    alloc,
		intakes:  intakes,
		recon:    recon,
		exch:     exch,
		reserves: reserves,
		rec:      rec,
		cache:    cache,
	}
}

// Register mounts all routes.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := r.Group("/api/v1")
	v1.POST("/reconcile", s.reconcileAll)
	v1.GET("/density/report", s.densityReport)
	v1.GET("/reserve/summary", s.reserveSummary)

	tanks := v1.Group("/tanks/:kind/:id")
	tanks.POST("/reconcile", s.reconcileTank)
	tanks.GET("/density", s.tankDensityInfo)
	tanks.POST("/density/variation", s.analyzeVariation)
	tanks.POST("/allocate", s.allocate)
	tanks.POST("/exchange-excess", s.exchangeExcess)
	tanks.POST("/lots", s.registerIntake)
	tanks.GET("/lots", s.listLots)
	tanks.POST("/reserve", s.setAsideReserve)
	tanks.POST("/reserve/dispense", s.dispenseReserve)
}

func tankRef(c *gin.Context) (tank.Ref, bool) {
	kind, err := tank.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return tank.Ref{}, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tank id"})
		return tank.Ref{}, false
	}
	return tank.Ref{Kind: kind, ID: id}, true
}

// statusFor maps core errors onto the HTTP surface.
func statusFor(err error) int {
	var insufficientFuel *allocation.InsufficientFuelError
	var insufficientReserve *reserve.InsufficientReserveError

	switch {
	case errors.Is(err, tank.ErrNotFound), errors.Is(err, lot.ErrNotFound),
		errors.Is(err, exchange.ErrLotMismatch):
		return http.StatusNotFound
	case errors.As(err, &insufficientFuel), errors.As(err, &insufficientReserve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrNoEligibleDonor):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrInsufficientExcess),
		errors.Is(err, exchange.ErrSourceNotExcess),
		errors.Is(err, intake.ErrOverCapacity):
		return http.StatusBadRequest
	case errors.Is(err, retry.ErrExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) reconcileTank(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	res, err := s.recon.ReconcileTank(c.Request.Context(), ref)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) reconcileAll(c *gin.Context) {
	results, err := s.recon.ReconcileAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) densityReport(c *gin.Context) {
	ctx := c.Request.Context()

	// The report scans every tank; coalesce concurrent callers and serve
	// a short-lived cached copy.
	payload, err, _ := s.flight.Do("density-report", func() (interface{}, error) {
		if b, ok := s.cacheGet(ctx, "fuelcore:density-report"); ok {
			return b, nil
		}
		report, err := s.recon.AnalysisReport(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(report)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, "fuelcore:density-report", b)
		return b, nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", payload.([]byte))
}

func (s *Server) tankDensityInfo(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	key := "fuelcore:density:" + ref.String()

	if b, ok := s.cacheGet(ctx, key); ok {
		c.Data(http.StatusOK, "application/json", b)
		return
	}

	if _, err := s.tanks.Get(ctx, ref); err != nil {
		fail(c, err)
		return
	}
	sums, err := s.lots.ActiveSums(ctx, ref)
	if err != nil {
		fail(c, err)
		return
	}
	info := density.InfoFromTotals(sums.Kg, sums.Liters, sums.LotCount)

	if b, err := json.Marshal(info); err == nil {
		s.cacheSet(ctx, key, b)
	}
	c.JSON(http.StatusOK, info)
}

type variationRequest struct {
	OperationalDensity string `json:"operational_density" binding:"required"`
	QuantityKg         string `json:"quantity_kg" binding:"required"`
}

func (s *Server) analyzeVariation(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	var req variationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operational, err := quantity.ParseDensity(req.OperationalDensity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quantityKg, err := quantity.ParseAmount(req.QuantityKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.tanks.Get(ctx, ref); err != nil {
		fail(c, err)
		return
	}
	sums, err := s.lots.ActiveSums(ctx, ref)
	if err != nil {
		fail(c, err)
		return
	}
	info := density.InfoFromTotals(sums.Kg, sums.Liters, sums.LotCount)

	variation, err := density.Analyze(info.Density, operational, quantityKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.rec.RecordVariation(ref, variation.VariationPercent, string(variation.Action), time.Now())

	c.JSON(http.StatusOK, variation)
}

type allocateRequest struct {
	Quantity string `json:"quantity" binding:"required"`
	Unit     string `json:"unit"`
}

func (s *Server) allocate(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := quantity.ParseAmount(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	unit, err := quantity.ParseUnit(req.Unit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	legs, err := s.alloc.Allocate(c.Request.Context(), ref, amount, unit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"legs": legViews(legs)})
}

type exchangeRequest struct {
	SourceLotID  int64  `json:"source_lot_id" binding:"required"`
	SourceMRN    string `json:"source_mrn"`
	ExcessLiters string `json:"excess_liters" binding:"required"`
	Density      string `json:"density"`
}

func (s *Server) exchangeExcess(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	liters, err := quantity.ParseAmount(req.ExcessLiters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var override *decimal.Decimal
	if req.Density != "" {
		d, err := quantity.ParseDensity(req.Density)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		override = &d
	}

	result, legs, err := s.exch.Exchange(c.Request.Context(), ref, req.SourceLotID, req.SourceMRN, liters, override)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": result, "legs": legViews(legs)})
}

type intakeRequest struct {
	MRN        string `json:"mrn" binding:"required"`
	Liters     string `json:"liters" binding:"required"`
	Density    string `json:"density" binding:"required"`
	ReceivedAt string `json:"received_at"`
}

func (s *Server) registerIntake(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	var req intakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	liters, err := quantity.ParseAmount(req.Liters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dens, err := quantity.ParseDensity(req.Density)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var receivedAt time.Time
	if req.ReceivedAt != "" {
		receivedAt, err = time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "received_at must be RFC3339"})
			return
		}
	}

	created, err := s.intakes.Register(c.Request.Context(), ref, req.MRN, liters, dens, receivedAt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, lotView(created))
}

func (s *Server) listLots(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	if _, err := s.tanks.Get(c.Request.Context(), ref); err != nil {
		fail(c, err)
		return
	}
	lots, err := s.lots.ListActive(c.Request.Context(), ref)
	if err != nil {
		fail(c, err)
		return
	}
	views := make([]gin.H, 0, len(lots))
	for i := range lots {
		views = append(views, lotView(&lots[i]))
	}
	c.JSON(http.StatusOK, gin.H{"lots": views})
}

type setAsideRequest struct {
	LotID  int64  `json:"lot_id" binding:"required"`
	MRN    string `json:"mrn"`
	Liters string `json:"liters" binding:"required"`
}

func (s *Server) setAsideReserve(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	var req setAsideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	liters, err := quantity.ParseAmount(req.Liters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := s.reserves.SetAside(c.Request.Context(), ref, req.LotID, req.MRN, liters)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         entry.ID,
		"tank_kind":  entry.TankKind,
		"tank_id":    entry.TankID,
		"lot_id":     entry.LotID,
		"mrn":        entry.MRN,
		"liters":     entry.Liters,
		"created_at": entry.CreatedAt,
	})
}

type dispenseRequest struct {
	Liters      string `json:"liters" binding:"required"`
	DispensedBy string `json:"dispensed_by"`
	Reference   string `json:"reference"`
}

func (s *Server) dispenseReserve(c *gin.Context) {
	ref, ok := tankRef(c)
	if !ok {
		return
	}
	var req dispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	liters, err := quantity.ParseAmount(req.Liters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.reserves.Dispense(c.Request.Context(), ref, liters, req.DispensedBy, req.Reference)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) reserveSummary(c *gin.Context) {
	summary, err := s.reserves.Summarize(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func legViews(legs []audit.Leg) []gin.H {
	views := make([]gin.H, 0, len(legs))
	for i := range legs {
		l := &legs[i]
		views = append(views, gin.H{
			"leg_id":         l.ID,
			"correlation_id": l.CorrelationID,
			"operation":      l.Operation,
			"lot_id":         l.LotID,
			"mrn":            l.MRN,
			"liters":         l.Liters,
			"kilograms":      l.Kilograms,
			"density":        l.Density,
			"fully_consumed": l.FullyConsumed,
		})
	}
	return views
}

func lotView(l *lot.Lot) gin.H {
	return gin.H{
		"id":               l.ID,
		"tank_kind":        l.TankKind,
		"tank_id":          l.TankID,
		"mrn":              l.MRN,
		"original_liters":  l.OriginalLiters,
		"original_kg":      l.OriginalKg,
		"remaining_liters": l.RemainingLiters,
		"remaining_kg":     l.RemainingKg,
		"density":          l.Density,
		"received_at":      l.ReceivedAt,
	}
}

func (s *Server) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	b, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (s *Server) cacheSet(ctx context.Context, key string, value []byte) {
	if s.cache == nil {
		return
	}
	s.cache.Set(ctx, key, value, cacheTTL)
}
