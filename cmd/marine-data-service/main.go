package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	httpapi "github.com/inguy24/weewx-noaa-marine-API-sub000/internal/api/http"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/config"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/logging"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/service"
)

var configPath = flag.String("config", "", "path to YAML config (falls back to CONFIG_FILE)")

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	logger, err := logging.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		var cfgErr *marine.ConfigError
		if errors.As(err, &cfgErr) {
			// Configuration problems disable the service; they must not
			// take the host down.
			logger.Error("marine data service disabled", zap.Error(err))
			return
		}
		logger.Fatal("marine data service failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		logger.Info("marine data service disabled in configuration")
		return nil
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	// First-run convenience: make sure the destination tables exist.
	if err := svc.Store().EnsureSchema(ctx, cfg.FieldMappings); err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "marine-data-service",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	app.Use(recover.New())
	httpapi.RegisterRoutes(app, svc)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during status server shutdown", zap.Error(err))
	}
	return nil
}

// openDB selects the driver from the URL scheme: postgres URLs go through
// pgx, anything else is treated as a SQLite path.
func openDB(url string) (*sql.DB, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return sql.Open("pgx", url)
	}
	return sql.Open("sqlite", strings.TrimPrefix(url, "sqlite://"))
}
