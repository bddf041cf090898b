package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/preetsinghmakkar/TeleConsult/internal/config"
	"github.com/preetsinghmakkar/TeleConsult/internal/database"
	"github.com/preetsinghmakkar/TeleConsult/internal/handlers"
	"github.com/preetsinghmakkar/TeleConsult/internal/repositories"
	"github.com/preetsinghmakkar/TeleConsult/internal/routes"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	ws "github.com/preetsinghmakkar/TeleConsult/internal/websocket"
	"github.com/rs/zerolog/log"
)

// API is the HTTP + WebSocket signaling application.
type API struct {
	cfg     *config.Config
	srv     *http.Server
	db      *sql.DB
	hub     *ws.Hub
	sweeper sweeper
}

type sweeper interface {
	Run(ctx context.Context)
}

// NewAPI validates config, runs migrations, opens the database and builds
// the router.
func NewAPI(ctx context.Context, cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	sessionRepo := repositories.NewVideoSessionRepository(db)
	signalRepo := repositories.NewSignalRepository(db)
	hub := ws.NewHub()

	lifecycle := services.NewVideoSessionService(sessionRepo, nil, nil, hub, cfg.PublicBaseURL)
	access := services.NewAccessService(sessionRepo)
	signaling := services.NewSignalingService(signalRepo, cfg.SignalBatchLimit)

	router := routes.SetupRouter(routes.Handlers{
		Health:    handlers.NewHealthHandler(db),
		Sessions:  handlers.NewSessionHandler(lifecycle),
		Rooms:     handlers.NewRoomHandler(access, signaling, cfg.PollInterval, cfg.ICEServers),
		WebSocket: handlers.NewWebSocketHandler(signaling, hub, cfg.WSMaxMessageSize, cfg.CORSOrigins),
		Access:    access,
	}, cfg.JWTSecret, cfg.CORSOrigins, cfg.IsDevelopment())

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:     cfg,
		srv:     srv,
		db:      db,
		hub:     hub,
		sweeper: services.NewLinkSweeper(lifecycle, cfg.SweepInterval),
	}, nil
}

// Run starts the HTTP server and the link sweeper and blocks until ctx is
// cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Info().Str("module", "api").Str("addr", a.srv.Addr).Msg("HTTP server listening")
	log.Info().Str("module", "api").Msgf("  Health:    %s/health", base)
	log.Info().Str("module", "api").Msgf("  Sessions:  %s/api/sessions", base)
	log.Info().Str("module", "api").Msgf("  Signals:   %s/api/rooms/:room/signals", base)
	log.Info().Str("module", "api").Msgf("  WebSocket: ws://%s:%s/api/rooms/:room/ws", host, a.cfg.HTTPPort)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.sweeper.Run(sweepCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.hub.CloseAll()
	if err := a.srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	stopSweep()
	<-sweepDone
	if err := a.db.Close(); err != nil {
		log.Warn().Str("module", "api").Err(err).Msg("closing database")
	}
	return runErr
}
