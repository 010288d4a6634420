package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"builderbuddy-backend/config"
	_ "builderbuddy-backend/docs"
	"builderbuddy-backend/mcp"
	"builderbuddy-backend/metrics"
	"builderbuddy-backend/middleware"
	mpapi "builderbuddy-backend/middleware/marketplace"
	"builderbuddy-backend/services"
	auth "builderbuddy-backend/storage/auth"
	mpstore "builderbuddy-backend/storage/marketplace"
)

type keyStore interface {
	auth.KeyResolver
	auth.KeyIssuer
	Seed(key, address, source string)
}

func main() {
	configPath := flag.String("config", os.Getenv("BB_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := mpstore.Open(ctx, cfg.StoreDriver, storeDSN(cfg))
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	m := metrics.New()
	svc, err := services.NewMarketplaceService(ctx, services.Options{
		Config:  cfg,
		Store:   store,
		Metrics: m,
	})
	if err != nil {
		store.Close()
		log.Fatalf("failed to init marketplace: %v", err)
	}
	svc.Start(ctx)

	keys, closeKeys, err := openKeyStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init api keys: %v", err)
	}
	defer closeKeys()
	seedKeys(keys, cfg)

	api := mpapi.NewServer(svc, keys, keys, m)
	api.SetRateLimiter(middleware.NewRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec))
	api.Mount("/mcp", mcp.NewMCPServer(svc, "").HTTPHandler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("BuilderBuddy marketplace listening on %s (store=%s, oracle=%s)", srv.Addr, cfg.StoreDriver, cfg.Oracle.Provider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	if err := svc.Close(shutdownCtx); err != nil {
		log.Printf("final snapshot failed: %v", err)
	}
	log.Printf("shutdown complete")
}

func storeDSN(cfg config.Config) string {
	if cfg.StoreDriver == "sqlite" {
		return cfg.SQLitePath
	}
	return cfg.PGDSN
}

// openKeyStore keeps issued keys in Postgres when the marketplace does.
func openKeyStore(ctx context.Context, cfg config.Config) (keyStore, func(), error) {
	if cfg.StoreDriver != "postgres" {
		return auth.NewAPIKeyStore(), func() {}, nil
	}
	pg, err := auth.NewPGAPIKeyStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func seedKeys(keys keyStore, cfg config.Config) {
	for key, addr := range cfg.APIKeys {
		keys.Seed(key, addr, "config")
	}
	if cfg.OwnerAPIKey != "" {
		keys.Seed(cfg.OwnerAPIKey, cfg.OwnerAddress, "owner")
	}
	if cfg.OracleAPIKey != "" {
		keys.Seed(cfg.OracleAPIKey, cfg.OracleAddress, "oracle")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
