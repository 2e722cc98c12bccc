package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"tandem/internal/api"
	"tandem/internal/archive"
	"tandem/internal/config"
	"tandem/internal/hub"
	"tandem/internal/pipeline"
	"tandem/internal/session"
	"tandem/internal/websocket"
	"tandem/pkg/database"
)

// Application coordinates all system components. Initialization follows
// strict dependency order:
// Archive → Pipeline → Connections → Sessions → Hub → API → HTTP
type Application struct {
	config          *config.Config
	deliveryArchive *archive.Manager
	pipelineClient  *pipeline.Client
	connections     *websocket.Registry
	sessions        *session.Registry
	eventHub        *hub.Hub
	apiServer       *api.Server
	httpServer      *http.Server
}

// NewApplication creates an application instance with all components wired.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Delivery archive (foundation layer, audit trail only)
	archiveConfig := &database.Config{
		DatabasePath:    cfg.Archive.Path,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: cfg.Archive.Timeout / 3,
	}

	deliveryArchive, err := archive.NewManager(archiveConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize delivery archive: %w", err)
	}

	// STEP 2: External report pipeline client
	pipelineClient, err := pipeline.NewClient(pipeline.Config{
		BaseURL:        cfg.Pipeline.BaseURL,
		RequestTimeout: cfg.Pipeline.RequestTimeout,
	})
	if err != nil {
		_ = deliveryArchive.Close()
		return nil, fmt.Errorf("failed to initialize pipeline client: %w", err)
	}

	// STEP 3: WebSocket connection registry (broadcast fabric)
	connections := websocket.NewRegistry()

	// STEP 4: Session registry (pairing and finalize state machine)
	sessions := session.NewRegistry(connections, pipelineClient, deliveryArchive, session.Config{
		IdleTTL:        cfg.Session.IdleTTL,
		SweepInterval:  cfg.Session.SweepInterval,
		DeliverTimeout: cfg.Pipeline.RequestTimeout,
	})

	// STEP 5: Event hub (serializes all realtime events)
	eventHub := hub.NewHub(sessions, connections)

	// STEP 6: Operational API server
	apiServer := api.NewServer(sessions, deliveryArchive, pipelineClient, connections)

	// STEP 7: WebSocket handler
	wsHandler := websocket.NewHandler(connections, eventHub, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	// STEP 8: HTTP server carrying both surfaces
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:          cfg,
		deliveryArchive: deliveryArchive,
		pipelineClient:  pipelineClient,
		connections:     connections,
		sessions:        sessions,
		eventHub:        eventHub,
		apiServer:       apiServer,
		httpServer:      httpServer,
	}, nil
}

// Start begins application execution. The hub and session sweeper start
// before the HTTP server so no accepted connection finds them missing.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting tandem on %s", app.httpServer.Addr)

	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	if err := app.sessions.Start(ctx); err != nil {
		_ = app.eventHub.Stop()
		return fmt.Errorf("failed to start session registry: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify the listener came up before declaring the application started
	select {
	case err := <-serverErrCh:
		_ = app.sessions.Stop()
		_ = app.eventHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Tandem started successfully")
		return nil
	case <-ctx.Done():
		_ = app.sessions.Stop()
		_ = app.eventHub.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application in reverse dependency order:
// HTTP → Sessions → Hub → Archive.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down tandem")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.sessions.Stop(); err != nil {
		log.Printf("Session registry shutdown error: %v", err)
	}

	if err := app.eventHub.Stop(); err != nil {
		log.Printf("Event hub shutdown error: %v", err)
	}

	if err := app.deliveryArchive.Close(); err != nil {
		log.Printf("Delivery archive shutdown error: %v", err)
	}

	log.Printf("Tandem shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
