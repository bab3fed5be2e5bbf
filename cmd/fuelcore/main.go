package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fueldock/fuelcore/internal/allocation"
	"github.com/fueldock/fuelcore/internal/audit"
	"github.com/fueldock/fuelcore/internal/exchange"
	"github.com/fueldock/fuelcore/internal/httpapi"
	"github.com/fueldock/fuelcore/internal/intake"
	"github.com/fueldock/fuelcore/internal/lot"
	"github.com/fueldock/fuelcore/internal/reconcile"
	"github.com/fueldock/fuelcore/internal/reserve"
	"github.com/fueldock/fuelcore/internal/tank"
	"github.com/fueldock/fuelcore/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	defer db.Close()

	var msgClient *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		msgClient, err = messaging.NewClient(messaging.Config{
			URL:            natsURL,
			Name:           "fuelcore",
			ReconnectWait:  time.Second,
			MaxReconnects:  5,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer func() {
			if err := msgClient.Drain(); err != nil {
				log.Printf("Failed to drain NATS connection: %v", err)
			}
		}()
	}

	var cache *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: addr})
		defer cache.Close()
	}

	var metrics api.WriteAPI
	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		influx := influxdb2.NewClient(influxURL, os.Getenv("INFLUX_TOKEN"))
		metrics = influx.WriteAPI(os.Getenv("INFLUX_ORG"), os.Getenv("INFLUX_BUCKET"))
		defer influx.Close()
	}

	recorder := audit.NewRecorder(msgClient, metrics)
	tanks := tank.NewStore(db)
	lots := lot.NewStore(db)

	server := httpapi.NewServer(
		tanks,
		lots,
		allocation.New(db, tanks, lots, recorder),
		intake.NewService(db, tanks, lots, recorder),
		reconcile.NewEngine(db, tanks, lots, recorder),
		exchange.NewService(db, tanks, lots, recorder),
		reserve.NewLedger(db, tanks, recorder),
		recorder,
		cache,
	)

	r := gin.Default()
	server.Register(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
