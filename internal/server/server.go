package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/database"
	loggerPkg "github.com/finanspro/dbo/internal/logger"
	"github.com/finanspro/dbo/internal/redis"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/internal/store/memory"
	"github.com/finanspro/dbo/internal/store/postgres"
	"github.com/rs/zerolog"
)

type Server struct {
	Config        *config.Config
	Logger        *zerolog.Logger
	LoggerService *loggerPkg.LoggerService
	Db            *database.Database
	Redis         *redis.Client
	Store         store.Store
	httpServer    *http.Server
}

// NewServer wires the storage backend selected in cfg. db may be nil when
// the memory backend is used and rdb may be nil when Redis is disabled.
func NewServer(cfg *config.Config, logger *zerolog.Logger, ls *loggerPkg.LoggerService, db *database.Database, rdb *redis.Client) (*Server, error) {
	var st store.Store
	switch cfg.Primary.Storage {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres storage selected but no database was initialized")
		}
		st = postgres.New(db.Pool)
	case "memory":
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		st = memory.New()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Primary.Storage)
	}

	return &Server{
		Config:        cfg,
		Logger:        logger,
		LoggerService: ls,
		Db:            db,
		Redis:         rdb,
		Store:         st,
	}, nil
}

// Locker returns the distributed lock used to serialize debits per client.
func (s *Server) Locker() redis.Locker {
	if s.Redis == nil {
		return redis.NopLocker{}
	}
	return s.Redis
}

func (s *Server) SetupHTTPServer(handler http.Handler) {
	s.httpServer = &http.Server{
		Addr:         ":" + s.Config.Server.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(s.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.Config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.Config.Server.IdleTimeout) * time.Second,
	}
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return errors.New("HTTP server not initialized")
	}

	s.Logger.Info().
		Str("port", s.Config.Server.Port).
		Str("env", s.Config.Primary.Env).
		Str("storage", s.Config.Primary.Storage).
		Msg("starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Error().Err(err).Msg("failed to close redis client")
		}
	}

	if s.Db != nil {
		if err := s.Db.Close(); err != nil {
			s.Logger.Error().Err(err).Msg("failed to close database")
		}
	}

	return nil
}

// Ping checks the backends the API depends on.
func (s *Server) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.Store.Ping(ctx)}
	if s.Redis != nil {
		checks["redis"] = s.Redis.Ping(ctx)
	}
	return checks
}
