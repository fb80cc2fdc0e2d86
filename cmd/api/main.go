package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"craftctrl.dev/internal/auth"
	"craftctrl.dev/internal/config"
	"craftctrl.dev/internal/httpapi"
	"craftctrl.dev/internal/obs"
	"craftctrl.dev/internal/store/pg"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	svc, err := auth.NewService(store, cfg.JWTSecret,
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithResetLinkBases(cfg.FrontendURL, cfg.APIURL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	// Permission catalog and the super_admin role must exist before the
	// first request.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("ensure builtins: %v", err)
	}
	cancel()

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: store.DB()}, httpapi.Config{
		Version:       version,
		CORSOrigin:    cfg.CORSOrigin,
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Printf("Starting craftctrl-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
