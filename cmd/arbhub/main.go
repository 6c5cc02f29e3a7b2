package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbhub/internal/config"
	"arbhub/internal/discovery"
	"arbhub/internal/httpapi"
	"arbhub/internal/logging"
	"arbhub/internal/manager"
	"arbhub/internal/store"
	"arbhub/internal/telemetry"
	"arbhub/internal/venue"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/arbhub.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbhub version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.ListenAddr = *addr
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting arbhub",
		"version", version,
		"venues", len(cfg.Venues),
		"chains", len(cfg.Chains),
		"addr", cfg.HTTP.ListenAddr,
	)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup(cfg.Telemetry.ServiceName)
		if err != nil {
			logger.Warn("failed to initialize telemetry", "error", err)
		} else {
			logger.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
		}
	}

	chains, err := venue.NewChainContexts(cfg.Chains, cfg.Timing)
	if err != nil {
		logger.Error("failed to dial configured chains", "error", err)
		os.Exit(1)
	}

	priceStore := store.New(logger)
	disc := discovery.New(cfg.Venues, cfg.Chains, cfg.Timing, cfg.Concurrency.DiscoveryPoolSize, logger)
	mgr := manager.New(priceStore, disc, cfg.Venues, cfg.Timing, chains, cfg.Concurrency.ManagerPoolSize, logger)

	server := httpapi.NewServer(mgr, disc, priceStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(ctx, cfg.HTTP.ListenAddr); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	logger.Info("arbhub is running",
		"health_url", fmt.Sprintf("http://localhost%s/health", cfg.HTTP.ListenAddr),
		"metrics_url", fmt.Sprintf("http://localhost%s/metrics", cfg.HTTP.ListenAddr),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("received shutdown signal, shutting down")

	cancel()
	mgr.EmergencyDisconnectAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during telemetry shutdown", "error", err)
		}
	}

	logger.Info("arbhub stopped")
}

// loadConfig loads from filename if present, falling back to the built-in
// defaults otherwise. The defaults take each chain's RPC URL from its
// <CHAIN>_RPC_URL environment variable; a chain whose variable is unset
// cannot be dialed at startup.
func loadConfig(filename string) (*config.Config, error) {
	if _, err := os.Stat(filename); err != nil {
		cfg := config.DefaultConfig()
		for name, ch := range cfg.Chains {
			ch.RPCURL = os.ExpandEnv(ch.RPCURL)
			cfg.Chains[name] = ch
		}
		return cfg, nil
	}
	return config.LoadConfig(filename)
}
