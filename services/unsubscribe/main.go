package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/services/unsubscribe/handlers"
	"pulsar-mailer/services/unsubscribe/repository"
	"pulsar-mailer/shared/config"
	"pulsar-mailer/shared/database"
	"pulsar-mailer/shared/logger"
	"pulsar-mailer/shared/middleware"

	"github.com/gin-gonic/gin"
)

func main() {
	log := logger.New(&logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "text"),
		Environment: os.Getenv("ENVIRONMENT"),
	})

	log.Info("Starting unsubscribe service...")

	cfg, err := config.LoadUnsubscribeConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(&models.Unsubscribe{}, &models.Bounce{}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ledger := repository.NewLedgerRepository(db)
	handler := handlers.NewUnsubscribeHandler(ledger, db, cfg.Unsubscribe.TokenSecret, log)

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.CORSMiddleware())

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Unsubscribe service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down unsubscribe service...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
