package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"catatkas/backend/internal/audit"
	"catatkas/backend/internal/config"
	"catatkas/backend/internal/httpapi"
	"catatkas/backend/internal/mirror"
	"catatkas/backend/internal/service"
	"catatkas/backend/internal/store"
	"catatkas/backend/internal/store/memory"
	pgstore "catatkas/backend/internal/store/postgres"
	"catatkas/backend/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.Must(logger.New())
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	book := mirror.Mirror(mirror.Noop{})
	if cfg.RedisAddr != "" {
		redisMirror := mirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisMirror.Ping(ctx); err != nil {
			log.Warn("redis unavailable, running without mirror", zap.Error(err))
		} else {
			book = redisMirror
			closers = append(closers, redisMirror.Close)
			log.Info("mirror: redis")
		}
	} else {
		log.Info("mirror: noop")
	}

	svc := service.New(repo, book, logger.Named(log, "service"), cfg.BookID,
		time.Duration(cfg.CollectCooldownMillis)*time.Millisecond)

	verifier := audit.New(repo, logger.Named(log, "audit"), cfg.AuditCronSpec,
		time.Duration(cfg.AuditSettleDelaySeconds)*time.Second)
	svc.SetChangeListener(verifier)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := verifier.Start(runCtx); err != nil {
		log.Fatal("audit verifier failed to start", zap.Error(err))
	}
	defer verifier.Stop()

	// Remote edits arrive as record-set replacement events; apply them and
	// let the verifier re-check the book.
	go func() {
		err := book.Subscribe(runCtx, cfg.BookID, func(event mirror.Event) {
			applyCtx, applyCancel := context.WithTimeout(runCtx, 5*time.Second)
			defer applyCancel()
			if err := svc.ReplaceRecordSet(applyCtx, event.Set, event.Payload); err != nil {
				log.Warn("mirror event rejected",
					zap.String("set", event.Set), zap.Error(err))
				return
			}
			verifier.RecordsChanged()
		})
		if err != nil && runCtx.Err() == nil {
			log.Warn("mirror subscription ended", zap.Error(err))
		}
	}()

	auth := httpapi.NewAuthManager(cfg.AuthSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, verifier, auth, logger.Named(log, "http"), cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("bookkeeping backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
