package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/icatproject/icat-gateway/internal/catalogue"
	"github.com/icatproject/icat-gateway/internal/gatewayconfig"
	"github.com/icatproject/icat-gateway/internal/orchestrator"
	"github.com/icatproject/icat-gateway/internal/projection"
	"github.com/icatproject/icat-gateway/internal/relational"
	"github.com/icatproject/icat-gateway/internal/session"
)

func runServer(ctx context.Context, configPath string) error {
	cfg, err := gatewayconfig.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	gatewayconfig.PrintConfiguration(cfg)

	registry := catalogue.NewRegistry()

	builder, err := newQueryBuilder(cfg, registry)
	if err != nil {
		return fmt.Errorf("build query builder: %w", err)
	}

	var mapping *projection.Mapping
	if cfg.Search.MappingPath != "" {
		mapping, err = projection.LoadMapping(cfg.Search.MappingPath)
		if err != nil {
			return fmt.Errorf("load search mapping: %w", err)
		}
	}

	identity, err := testIdentity(cfg)
	if err != nil {
		return fmt.Errorf("resolve test identity: %w", err)
	}

	client := session.NewClient(
		cfg.Catalogue.URL,
		cfg.Catalogue.CheckCert,
		time.Duration(cfg.Catalogue.TimeoutMS)*time.Millisecond,
	)
	pool := session.NewPool(client, identity, session.Config{
		InitSize:          cfg.Pool.InitSize,
		MaxSize:           cfg.Pool.MaxSize,
		BorrowTimeout:     time.Duration(cfg.Pool.BorrowTimeoutMS) * time.Millisecond,
		RefreshThreshold:  time.Duration(cfg.Catalogue.RefreshThresholdSeconds) * time.Second,
		MaintenancePeriod: time.Duration(cfg.Pool.MaintenancePeriod) * time.Second,
		CacheSize:         cfg.Pool.ClientCacheSize,
	})
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start session pool: %w", err)
	}

	o := orchestrator.New(pool, client, builder, mapping)
	router := orchestrator.NewRouter(o, registry, cfg.Server.Extension, cfg.CorsConfig.AllowedOrigins)
	handler := gatewayconfig.Middleware(cfg)(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		log.Printf("icat-gateway listening on %s (backend=%s)", addr, cfg.Server.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newQueryBuilder selects the QueryBuilder implementation for the
// configured backend. The relational builder satisfies the same interface
// as the catalogue one, but the gateway's only wire client (session.Client)
// still talks to the catalogue's REST endpoint either way — relational is
// exercised directly by internal/relational's own tests, not by this
// process, until a SQL execution path is wired in.
func newQueryBuilder(cfg *gatewayconfig.Config, registry *catalogue.Registry) (catalogue.QueryBuilder, error) {
	switch cfg.Server.Backend {
	case "relational":
		return relational.NewBuilder(registry), nil
	case "catalogue", "":
		return catalogue.NewBuilder(registry), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Server.Backend)
	}
}

// testIdentity parses the "username:password" form of
// auth.testUserCredentials into the pool's service identity.
func testIdentity(cfg *gatewayconfig.Config) (session.Credentials, error) {
	parts := strings.SplitN(cfg.Auth.TestUserCredentials, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return session.Credentials{}, fmt.Errorf("auth.testUserCredentials must be \"username:password\"")
	}
	return session.Credentials{
		Mechanism: cfg.Auth.TestMechanism,
		Username:  parts[0],
		Password:  parts[1],
	}, nil
}

func main() {
	configPathFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runServer(ctx, *configPathFlag); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
