package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/lgulliver/stowaway/internal/api"
	"github.com/lgulliver/stowaway/internal/common"
	"github.com/lgulliver/stowaway/internal/janitor"
	"github.com/lgulliver/stowaway/internal/session"
	"github.com/lgulliver/stowaway/internal/storage"
	"github.com/lgulliver/stowaway/internal/upload"
	"github.com/lgulliver/stowaway/pkg/config"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logging is not configured yet; the default logger writes to stderr
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting stowaway upload server")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	blobStorage, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	var opts []upload.Option
	if cfg.Redis.Enabled {
		cache, err := common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
		opts = append(opts, upload.WithResultCache(upload.NewRedisResultCache(cache, cfg.Redis.ResultTTL)))
		log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("finalize result cache enabled")
	}

	svc := upload.NewService(db.DB, blobStorage, &cfg.Upload, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	janitorDone := make(chan struct{})
	if cfg.Upload.JanitorEnabled {
		j := janitor.New(blobStorage, session.NewRegistry(db.DB), cfg.Upload.Retention)
		go func() {
			defer close(janitorDone)
			j.Run(ctx, cfg.Upload.JanitorInterval)
		}()
	} else {
		close(janitorDone)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(svc, cfg.Upload.MaxChunkBytes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("chunk_size", units.BytesSize(float64(cfg.Upload.ChunkSize))).
			Str("storage", cfg.Storage.LocalPath).
			Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	<-janitorDone

	select {
	case err := <-serveErr:
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	default:
		log.Info().Msg("server shutdown complete")
	}
}
