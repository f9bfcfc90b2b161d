package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/api"
	"github.com/leduftw/polymarket-price-alert/internal/config"
	"github.com/leduftw/polymarket-price-alert/internal/engine"
	"github.com/leduftw/polymarket-price-alert/internal/marketcache"
	"github.com/leduftw/polymarket-price-alert/internal/notify"
	"github.com/leduftw/polymarket-price-alert/internal/polymarket/gammaapi"
	"github.com/leduftw/polymarket-price-alert/internal/storage"
	"github.com/leduftw/polymarket-price-alert/internal/ticklock"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting pricealert service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(log, cfg)

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"store_driver":      cfg.StoreDriver,
		"poll_interval_sec": cfg.PollInterval.Seconds(),
		"poll_workers":      cfg.PollWorkers,
		"alert_mode":        cfg.AlertMode,
		"tick_lock":         cfg.RedisAddr != "",
	}).Info("Configuration loaded")

	readyChecks := map[string]api.ReadyCheck{}

	// Initialize alert store
	var store engine.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMySQL:
		db, err := storage.New(cfg, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			log.WithError(err).Fatal("Failed to run database migrations")
		}
		log.Info("Database connected and migrated")

		store = db
		readyChecks["database"] = db.Ping
	default:
		log.Warn("Using in-memory alert store; alerts will not survive a restart")
		store = storage.NewMemory()
	}

	// Initialize market catalogue
	gammaClient := gammaapi.NewClient(cfg)
	cache := marketcache.New(gammaClient, cfg.MarketPageSize, cfg.MarketMaxPages, cfg.CacheRefreshInterval, log)

	// Initialize notification channels
	hub := notify.NewHub(log)
	sender, err := createSender(cfg, hub, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize alert sender")
	}
	dispatcher := notify.NewDispatcher(sender, cfg.NotifyTimeout, log)

	log.WithField("alert_mode", cfg.AlertMode).Info("Alert sender initialized")

	opts := engine.Options{
		Workers:      cfg.PollWorkers,
		FetchTimeout: cfg.PriceFetchTimeout,
		PollInterval: cfg.PollInterval,
		LockTTL:      cfg.TickLockTTL,
	}
	if cfg.RedisAddr != "" {
		lock := ticklock.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer lock.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := lock.Ping(pingCtx)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to redis")
		}
		log.WithField("addr", cfg.RedisAddr).Info("Tick lock enabled")

		opts.Locker = lock
		readyChecks["redis"] = lock.Ping
	}

	eng := engine.New(store, cache, gammaClient, dispatcher, log, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recover alert state before serving traffic
	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	err = eng.Load(loadCtx)
	loadCancel()
	if err != nil {
		log.WithError(err).Fatal("Failed to load alerts")
	}

	cache.Start(ctx)
	eng.Start(ctx)

	server := api.New(cfg.HTTPPort, cfg.SearchLimit, api.Deps{
		Alerts:      eng,
		Catalog:     cache,
		Markets:     gammaClient,
		Socket:      hub.HandleWS,
		ReadyChecks: readyChecks,
	}, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
		}
	}

	eng.Stop()
	cache.Stop()
	dispatcher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	hub.Close()
	cancel()

	log.Info("Graceful shutdown complete")
}

func configureLogger(log *logrus.Logger, cfg *config.Config) {
	if strings.EqualFold(cfg.LogFormat, "text") {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		return
	}
	log.SetLevel(level)
}

// createSender builds the notification fan-out from ALERT_MODE
func createSender(cfg *config.Config, hub *notify.Hub, log *logrus.Logger) (notify.Sender, error) {
	var senders []notify.Sender

	for _, mode := range cfg.AlertModes() {
		switch mode {
		case "log":
			senders = append(senders, notify.NewLogSender(log))
		case "discord":
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, notify.NewDiscordSender(url, cfg.Environment))
			}
		case "smtp":
			senders = append(senders, notify.NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		case "telegram":
			tg, err := notify.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID)
			if err != nil {
				return nil, err
			}
			senders = append(senders, tg)
		case "socket":
			senders = append(senders, hub)
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	switch len(senders) {
	case 0:
		return nil, errors.New("no alert senders configured")
	case 1:
		return senders[0], nil
	default:
		return notify.NewMultiSender(senders...), nil
	}
}
