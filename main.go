package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/internal/api"
	"github.com/MysteriousWolf/southpool-hacs/internal/archive"
	"github.com/MysteriousWolf/southpool-hacs/internal/coordinator"
	"github.com/MysteriousWolf/southpool-hacs/internal/source"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Southpool.Name,
		"version": cfg.Southpool.Version,
		"regions": strings.Join(cfg.Source.Regions, ","),
	}).Info("starting southpool")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Storage.S3.Enabled || cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "Southpool", cfg.Logging.DashboardName)
	}

	client := source.NewClient(cfg.Source, log)

	var archiver *archive.Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = archive.New(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			if config.IsProductionLike(config.AppEnvironment()) {
				os.Exit(1)
			}
			archiver = nil
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archiver")
	}

	coordinators := make([]*coordinator.Coordinator, 0, len(cfg.Source.Regions))
	providers := make([]api.ViewProvider, 0, len(cfg.Source.Regions))
	for _, region := range cfg.Source.Regions {
		c := coordinator.New(region, cfg.Scheduler, client, log)
		coordinators = append(coordinators, c)
		providers = append(providers, c)
	}

	apiServer := api.NewServer(cfg.API, providers, log)

	for _, c := range coordinators {
		if archiver != nil {
			c.OnDatasetFetched(func(dataset *models.RawDataset) {
				archiver.Enqueue(dataset)
			})
		}
		if apiServer != nil {
			c.OnViewUpdate(apiServer.BroadcastView)
		}
	}

	var wg sync.WaitGroup

	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archiver")
			os.Exit(1)
		}
	}

	for _, c := range coordinators {
		if err := c.Start(ctx); err != nil {
			log.WithError(err).WithRegion(c.Region()).Error("failed to start coordinator")
			os.Exit(1)
		}
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Warn("api server exited with error")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping coordinators")
	for _, c := range coordinators {
		c.Stop()
	}

	if archiver != nil {
		log.Info("stopping archiver")
		archiver.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("southpool stopped")
}
