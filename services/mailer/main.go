package main

import (
	"context"
	"os"

	"pulsar-mailer/services/mailer/events"
	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/services/mailer/report"
	"pulsar-mailer/services/mailer/smtp"
	"pulsar-mailer/services/mailer/store"
	"pulsar-mailer/services/mailer/template"
	"pulsar-mailer/services/mailer/worker"
	"pulsar-mailer/shared/config"
	"pulsar-mailer/shared/database"
	"pulsar-mailer/shared/logger"
	"pulsar-mailer/shared/redis"
)

func main() {
	log := logger.New(&logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "text"),
		Environment: os.Getenv("ENVIRONMENT"),
	})

	log.Info("Starting batch mailer...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	recipientStore, cleanup, err := buildStore(cfg, log)
	if err != nil {
		log.Fatalf("Failed to open recipient store: %v", err)
	}
	defer recipientStore.Close()

	event := fetchEvent(cfg, log)

	var transport worker.Transport
	if cfg.Mailer.DryRun {
		log.Warn("Dry run enabled: no messages will be delivered")
		transport = smtp.NewTransport(&smtp.DryRunDialer{Log: log}, &cfg.SMTP, cfg.Mailer.Sender, log)
	} else {
		transport = smtp.NewSMTPTransport(&cfg.SMTP, cfg.Mailer.Sender, cfg.Mailer.SenderName, log)
	}
	defer transport.Close()

	links := &template.LinkBuilder{
		BaseURL:     cfg.Unsubscribe.BaseURL,
		RedirectURL: cfg.Unsubscribe.RedirectURL,
		TokenSecret: cfg.Unsubscribe.TokenSecret,
	}

	reports := report.NewGenerator(cfg.Mailer.ReportsDir, log)

	w := worker.NewWorker(recipientStore, transport, reports, links, event, &worker.Config{
		Subject:      cfg.Mailer.Subject,
		TemplatePath: cfg.Mailer.TemplatePath,
		BatchSize:    cfg.Mailer.BatchSize,
		BatchDelay:   cfg.Mailer.BatchDelay,
	}, log)

	summary, err := w.Run()
	if err != nil {
		if summary != nil {
			log.WithField("report_file", summary.ReportFile).Error("Run finished with errors")
		}
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"report_file": summary.ReportFile,
		"successful":  summary.Successful,
		"failed":      summary.Failed,
	}).Info("Run finished")

	if cleanup != nil && summary.Failed == 0 {
		if err := cleanup(); err != nil {
			log.WithError(err).Warn("Failed to remove backup file")
		}
	}
}

// buildStore opens the configured recipient store backend. For the csv
// backend the returned cleanup removes the pre-run backup after a
// fully successful run.
func buildStore(cfg *config.Config, log *logger.Logger) (store.RecipientStore, func() error, error) {
	switch cfg.Mailer.StoreBackend {
	case config.StoreBackendDatabase:
		db, err := database.Connect(database.DefaultConfig(cfg.Database.URL))
		if err != nil {
			return nil, nil, err
		}
		var opts []store.DBStoreOption
		if cfg.Mailer.SourceQuery != "" {
			opts = append(opts, store.WithSourceQuery(cfg.Mailer.SourceQuery))
		}
		dbStore, err := store.NewDBStore(db, log, opts...)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return dbStore, nil, nil

	default:
		csvStore, err := store.NewCSVStore(cfg.Mailer.ContactsFile, log)
		if err != nil {
			return nil, nil, err
		}
		return csvStore, csvStore.Cleanup, nil
	}
}

// fetchEvent pulls event metadata for the template context. Failures
// degrade to an empty context and never abort the run.
func fetchEvent(cfg *config.Config, log *logger.Logger) *models.Event {
	if cfg.Events.APIURL == "" || cfg.Events.EventID == "" {
		return nil
	}

	var cache events.Cache
	if cfg.Events.RedisURL != "" {
		redisClient, err := redis.ConnectRedis(redis.DefaultConfig(cfg.Events.RedisURL))
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, event cache disabled")
		} else {
			cache = redisClient
		}
	}

	client := events.NewClient(cfg.Events.APIURL, cfg.Events.APIToken, cache, cfg.Events.CacheTTL, log)
	event, err := client.FetchEvent(context.Background(), cfg.Events.EventID)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch event metadata, placeholders will pass through")
		return nil
	}

	log.WithField("event", event.Name).Info("Event metadata loaded")
	return event
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
