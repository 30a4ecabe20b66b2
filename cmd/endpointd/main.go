package main

import (
	"log"
	"log/slog"
	"os"

	scimgateway "github.com/scimworks/endpointd"
	"github.com/scimworks/endpointd/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadFromEnv(logger)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	gw := scimgateway.New(cfg)
	gw.SetLogger(logger)

	if err := gw.Initialize(); err != nil {
		log.Fatalf("failed to initialize gateway: %v", err)
	}
	logger.Info("endpointd initialized",
		"api_prefix", cfg.Server.APIPrefix,
		"port", cfg.Server.Port,
		"production", cfg.Server.Production,
	)

	if err := gw.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
