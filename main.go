package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/rfqstack/config"
	"github.com/customeros/rfqstack/internal/database"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/server"
	"github.com/customeros/rfqstack/services"
)

func main() {
	app := &cli.App{
		Name:  "rfqstack",
		Usage: "ingest RFQ emails into structured requirements",
		Commands: []*cli.Command{
			{
				Name:   "server",
				Usage:  "Start the poller, workers, cron jobs and control API",
				Action: runServer,
			},
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
			{
				Name:      "reprocess",
				Usage:     "Reset one request and run its pipeline synchronously",
				ArgsUsage: "<request-id>",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "give up on the pipeline after this long",
						Value: 10 * time.Minute,
					},
				},
				Action: runReprocess,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is empty")
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	return database.InitDatabase(&database.DatabaseConfig{
		Driver:          cfg.DatabaseConfig.Driver,
		SqlitePath:      cfg.DatabaseConfig.SqlitePath,
		DBName:          cfg.DatabaseConfig.DBName,
		Host:            cfg.DatabaseConfig.Host,
		Port:            cfg.DatabaseConfig.Port,
		User:            cfg.DatabaseConfig.User,
		Password:        cfg.DatabaseConfig.Password,
		MaxConn:         cfg.DatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.DatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.DatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.DatabaseConfig.LogLevel,
		SSLMode:         cfg.DatabaseConfig.SSLMode,
	})
}

func runMigrate(*cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	err = repository.MigrateDB(repository.MigrationPoolConfig{
		MaxConn:         cfg.DatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.DatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.DatabaseConfig.ConnMaxLifetime,
	}, db)
	if err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func runServer(*cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("RFQStack starting up...")

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}
	if err := srv.Run(); err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func runReprocess(c *cli.Context) error {
	requestID := c.Args().First()
	if requestID == "" {
		return cli.Exit("usage: rfqstack reprocess <request-id>", 2)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	svcs, err := services.InitServices(cfg, repository.InitRepositories(db), appLogger)
	if err != nil {
		return err
	}
	defer svcs.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	span, ctx := opentracing.StartSpanFromContext(ctx, "cli.reprocess")
	defer span.Finish()

	request, err := svcs.Repositories.IngestionRequestRepository.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status == enum.RequestStatusCompleted {
		if err := svcs.StateMachine.Reprocess(ctx, requestID); err != nil {
			return err
		}
	}

	result, err := svcs.Orchestrator.Process(ctx, requestID)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.PollerConfig.ShutdownTimeout)
	defer shutdownCancel()
	_ = svcs.Orchestrator.Shutdown(shutdownCtx)

	if err != nil {
		return fmt.Errorf("request %s %s: %w", requestID, result.Status, err)
	}
	log.Printf("Request %s %s in %s (confidence %.2f)", requestID, result.Status, result.Duration.Round(time.Millisecond), result.Confidence)
	return nil
}
