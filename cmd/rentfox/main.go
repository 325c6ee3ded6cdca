package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/RentFox/app/controllers"
	apiv1 "github.com/ManuelReschke/RentFox/internal/api/v1"
	"github.com/ManuelReschke/RentFox/internal/pkg/billing"
	"github.com/ManuelReschke/RentFox/internal/pkg/cache"
	"github.com/ManuelReschke/RentFox/internal/pkg/database"
	"github.com/ManuelReschke/RentFox/internal/pkg/env"
	"github.com/ManuelReschke/RentFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/RentFox/internal/pkg/router"
	"github.com/ManuelReschke/RentFox/internal/pkg/s3archive"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

func main() {
	app, manager := NewApplication()
	if err := manager.Start(); err != nil {
		log.Fatalf("webhook replay worker: %v", err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		manager.Stop()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg, err := billing.LoadConfig()
	if err != nil {
		log.Fatalf("billing config: %v", err)
	}
	gateway, err := billing.NewStripeGatewayFromConfig(cfg)
	if err != nil {
		log.Fatalf("stripe gateway: %v", err)
	}

	opts := []billing.Option{}
	if cache.Enabled() {
		opts = append(opts, billing.WithLocker(cache.NewLocker(cache.GetClient())))
	}
	archiveCfg, err := s3archive.LoadConfig()
	if err != nil {
		log.Fatalf("webhook archive config: %v", err)
	}
	if archiveCfg.IsEnabled() {
		archiver, err := s3archive.NewClient(context.Background(), archiveCfg)
		if err != nil {
			log.Fatalf("webhook archive: %v", err)
		}
		opts = append(opts, billing.WithArchiver(archiver))
	}
	svc := billing.NewServiceFromDB(database.GetDB(), gateway, cfg, opts...)

	schedule := env.GetEnv("WEBHOOK_REPLAY_SCHEDULE", "")
	if schedule == "" {
		schedule = jobqueue.ScheduleFromInterval(env.GetEnvInt("WEBHOOK_REPLAY_INTERVAL_SECONDS", 0))
	}
	manager := jobqueue.NewManager(svc, schedule, env.GetEnvInt("WEBHOOK_REPLAY_BATCH", 50))

	app := fiber.New(fiber.Config{
		BodyLimit: webhookBodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if password := env.GetEnv("METRICS_PASSWORD", ""); password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "admin"): password,
			},
		}), monitor.New(monitor.Config{Title: "RentFox Metrics"}))
	}

	// SWAGGER / OPENAPI
	if _, err := apiv1.LoadSpec(context.Background()); err != nil {
		log.Printf("openapi: %v", err)
	} else if specPath := findSpecFile(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
			Title:    "RentFox Billing API",
		}))
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:      controllers.NewBillingController(svc),
		JWTSecret:    env.GetEnv("SUPABASE_JWT_SECRET", ""),
		AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", "*"),
	})

	return app, manager
}

func findSpecFile() string {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/rentfox to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + apiv1.SpecFile); err == nil {
			return path + apiv1.SpecFile
		}
	}
	return ""
}
