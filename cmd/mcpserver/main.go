package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"builderbuddy-backend/config"
	"builderbuddy-backend/core/marketplace"
	"builderbuddy-backend/mcp"
	"builderbuddy-backend/metrics"
	"builderbuddy-backend/services"
	mpstore "builderbuddy-backend/storage/marketplace"
)

func main() {
	configPath := flag.String("config", os.Getenv("BB_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// stdout carries the JSON-RPC stream.
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	caller := cfg.MCPCaller
	if caller == "" {
		caller = cfg.OwnerAddress
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dsn := cfg.PGDSN
	if cfg.StoreDriver == "sqlite" {
		dsn = cfg.SQLitePath
	}
	store, err := mpstore.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	svc, err := services.NewMarketplaceService(ctx, services.Options{
		Config:  cfg,
		Store:   store,
		Metrics: metrics.New(),
	})
	if err != nil {
		store.Close()
		log.Fatalf("failed to init marketplace: %v", err)
	}
	svc.Start(ctx)
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			log.Printf("final snapshot failed: %v", err)
		}
	}()

	mcpServer := mcp.NewMCPServer(svc, marketplace.Address(caller))
	log.Printf("BuilderBuddy MCP server starting (driver=%s, caller=%s)", cfg.StoreDriver, caller)

	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Printf("Server error: %v", err)
	}
}
