// Command reconciler runs a system-wide reconciliation pass and prints the
// drift analysis report. Operator-triggered and idempotent: each tank is
// its own transaction, so a rerun after a partial failure is safe.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/fueldock/fuelcore/internal/audit"
	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/reconcile"
	"github.com/fueldock/fuelcore/internal/tank"
)

func main() {
	reportOnly := flag.Bool("report-only", false, "print the drift report without reconciling")
	flag.Parse()

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tanks := tank.NewStore(db)
	lots := lot.NewStore(db)
	engine := reconcile.NewEngine(db, tanks, lots, audit.NewRecorder(nil, nil))

	failed := 0
	if !*reportOnly {
		results, err := engine.ReconcileAll(ctx)
		if err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
		for _, res := range results {
			if !res.Success {
				failed++
				fmt.Printf("FAIL  %s/%d: %s\n", res.TankKind, res.TankID, res.Details)
				continue
			}
			fmt.Printf("OK    %s/%d: kg %s -> %s (adj %s), liters %s -> %s (adj %s)\n",
				res.TankKind, res.TankID,
				res.BeforeKg, res.AfterKg, res.AdjustmentKg,
				res.BeforeLiters, res.AfterLiters, res.AdjustmentLiters)
		}
	}

	report, err := engine.AnalysisReport(ctx)
	if err != nil {
		log.Fatalf("Analysis report failed: %v", err)
	}
	fmt.Printf("\n%d tanks, %d with HIGH drift\n", report.TankCount, report.TanksWithIssues)
	for _, t := range report.Tanks {
		fmt.Printf("%-6s %s/%d %q: authoritative %s kg, lots %s kg, drift %s kg (%d lots)\n",
			t.Severity, t.TankKind, t.TankID, t.Name,
			t.AuthoritativeKg, t.LotSumKg, t.DriftKg, t.LotCount)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
