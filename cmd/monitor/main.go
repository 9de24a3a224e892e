package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/ig_price_stream/internal/domain"
	"github.com/vitos/ig_price_stream/internal/infrastructure/logger"
	"github.com/vitos/ig_price_stream/internal/infrastructure/metrics"
	"github.com/vitos/ig_price_stream/internal/infrastructure/refdata"
	"github.com/vitos/ig_price_stream/internal/infrastructure/storage"
	"github.com/vitos/ig_price_stream/internal/infrastructure/streaming"
	"github.com/vitos/ig_price_stream/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Streaming struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"streaming"`
	RefData struct {
		Endpoint      string `yaml:"endpoint"`
		APIKey        string `yaml:"api_key"`
		CST           string `yaml:"cst"`
		SecurityToken string `yaml:"security_token"`
	} `yaml:"refdata"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Monitor struct {
		Epics []string `yaml:"epics"`
	} `yaml:"monitor"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewPriceStore(cfg.Storage.Path, log)
	if err != nil {
		log.Fatal("Failed to init price store", zap.Error(err))
	}
	defer store.Close()

	client := streaming.NewClient(streaming.Config{URL: cfg.Streaming.Endpoint}, log)
	refClient := refdata.NewClient(cfg.RefData.Endpoint, cfg.RefData.APIKey, cfg.RefData.CST, cfg.RefData.SecurityToken)
	recorder := metrics.New()

	tracker := usecase.NewConnTracker(client, recorder, log)
	registry := usecase.NewRegistry(client, log)
	gate := usecase.NewMarketGate(store, refClient, log)
	monitor := usecase.NewMonitor(gate, tracker, registry, store, recorder, log)

	var epics []domain.Epic
	for _, raw := range cfg.Monitor.Epics {
		epic, err := domain.ParseEpic(raw)
		if err != nil {
			log.Warn("skipping invalid epic", zap.String("epic", raw), zap.Error(err))
			continue
		}
		epics = append(epics, epic)
	}
	if len(epics) == 0 {
		log.Fatal("no valid instruments configured")
	}

	if cfg.Metrics.Port != 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Monitor(ctx, epics); err != nil {
		log.Fatal("failed to start monitoring", zap.Error(err))
	}
	log.Info("monitoring started", zap.Int("instruments", len(epics)))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	monitor.Reset()
}
