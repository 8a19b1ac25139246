package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/config"
	"github.com/mergegate-dev/mergegate/internal/daemon"
	"github.com/mergegate-dev/mergegate/internal/platform"
	"github.com/mergegate-dev/mergegate/internal/storage"
	"github.com/mergegate-dev/mergegate/internal/version"
)

func main() {
	// Handle version command before anything else (for CI testing)
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("mergegated %s\n", version.Version)
		return
	}

	var (
		dbPath     = flag.String("db", storage.DefaultDBPath(), "path to sqlite database")
		configPath = flag.String("config", config.GlobalConfigPath(), "path to config file")
		addr       = flag.String("addr", "", "server address (overrides config)")
		workers    = flag.Int("workers", 0, "number of workers (overrides config)")
	)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting mergegated...")

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}

	// Apply flag overrides
	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	store, err := storage.OpenStore(cfg, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer store.Close()
	if cfg.StoreBackend == "sqlite" {
		log.Printf("Database: %s", *dbPath)
	}

	client, err := platform.NewGitHubClient(context.Background(), cfg.GitHubToken, cfg.GitHubBaseURL)
	if err != nil {
		log.Fatalf("Failed to create GitHub client: %v", err)
	}

	analyzer := compliance.NewHTTPAnalyzer(cfg.EngineURL,
		time.Duration(cfg.EngineTimeoutSeconds)*time.Second)

	server := daemon.NewServer(store, cfg, *configPath, client, analyzer)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		if err := server.Stop(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
