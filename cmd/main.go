package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/shopspring/decimal"

	"lootfan/internal/catalogfile"
	"lootfan/internal/config"
	"lootfan/internal/handlers"
	"lootfan/internal/reveal"
	"lootfan/internal/services"
	"lootfan/internal/store"
	"lootfan/internal/store/memory"
	"lootfan/internal/store/sqlstore"
)

func main() {
	// 1. Load configuration from the environment and an optional .env file
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logging; verbose also echoes to stdout
	defer logger.Init("lootfan", cfg.LogVerbose, false, os.Stderr).Close()

	// 3. Open the store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	// 4. Seed campaigns from the catalog directory
	if cfg.CatalogDir != "" {
		if err := seedCatalog(context.Background(), st, cfg.CatalogDir, cfg.FeeRate()); err != nil {
			logger.Fatalf("Failed to seed catalog: %v", err)
		}
	}

	// 5. Initialize the services
	payments := services.NewSimulatedProcessor(decimal.NewFromFloat(cfg.PaymentDeclineAbove))
	lootboxService := services.NewLootboxService(st, payments, services.DefaultRNG(), services.Options{
		BonusProbability: cfg.BonusProbability,
		ConflictRetries:  cfg.ConflictRetries,
	})
	reveals := reveal.NewRegistry(cfg.RevealTTL)

	// 6. Initialize the HTTP handler and router
	httpHandler := handlers.NewHTTPHandler(lootboxService, reveals, services.DefaultRNG())
	if !cfg.LogVerbose {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.LogVerbose {
		r.Use(gin.Logger())
	}

	// 7. Register public routes (before middleware)
	httpHandler.RegisterPublicRoutes(r)

	// 8. Group routes that require fan identification and apply middleware
	fanRoutes := r.Group("/")
	fanRoutes.Use(httpHandler.FanMiddleware())
	httpHandler.RegisterFanRoutes(fanRoutes)

	// 9. Start the background janitor
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go runJanitor(ctx, cfg, reveals, st)

	// 10. Run the server until interrupted
	srv := &http.Server{Addr: cfg.Addr(), Handler: r}
	go func() {
		logger.Infof("Server starting on http://%s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		logger.Info("Using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	st := sqlstore.New(db)
	if cfg.DBAutoMigrate {
		if err := st.AutoMigrate(); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
	}
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Errorf("Close store: %v", err)
		}
	}, nil
}

func seedCatalog(ctx context.Context, st store.Store, dir string, feeRate decimal.Decimal) error {
	files, err := catalogfile.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		campaign, prizes := f.Campaign(feeRate)
		created, err := st.SeedCampaign(ctx, campaign, prizes)
		if err != nil {
			return err
		}
		if created {
			logger.Infof("Seeded campaign %s with %d prizes", campaign.ID, len(prizes))
		} else {
			logger.Infof("Campaign %s already stored; kept its stock and totals", campaign.ID)
		}
	}
	return nil
}

func runJanitor(ctx context.Context, cfg *config.Config, reveals *reveal.Registry, st store.Store) {
	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := reveals.CleanUpInactiveSessions()
			released := 0
			if j, ok := st.(store.ReservationJanitor); ok {
				released = j.CleanUpStaleReservations(cfg.RevealTTL)
			}
			if removed > 0 || released > 0 {
				logger.Infof("Janitor removed %d reveal sessions and %d stale reservations", removed, released)
			}
		}
	}
}
