package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/aptus-home/internal/aptus"
	"github.com/nerrad567/aptus-home/internal/audit"
	"github.com/nerrad567/aptus-home/internal/auth"
	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/config"
	"github.com/nerrad567/aptus-home/internal/infrastructure/logging"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
	"github.com/nerrad567/aptus-home/internal/metrics"
	"github.com/nerrad567/aptus-home/internal/setup"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LockBridge is the part of the Aptus bridge the API drives.
type LockBridge interface {
	Locks() []doorlock.State
	LockState(entityID string) (doorlock.State, error)
	Unlock(ctx context.Context, entityID string, origin bridge.Origin) (aptus.Result, error)
	Lock(ctx context.Context, entityID string, origin bridge.Origin) error
	DoormanStatus(ctx context.Context, entryID string) (aptus.Result, error)
	LockDoorman(ctx context.Context, entryID string, origin bridge.Origin) (aptus.Result, error)
	UnlockDoorman(ctx context.Context, entryID, code string, origin bridge.Origin) (aptus.Result, error)
	Discover(ctx context.Context, entryID string) (doorlock.SyncResult, error)
	PortalStatuses() []bridge.PortalStatus
	Stats() bridge.BridgeStatistics
}

// EntryLifecycle loads and unloads configured portal entries at runtime.
type EntryLifecycle interface {
	SetupEntry(ctx context.Context, entry setup.Entry) error
	UnloadEntry(ctx context.Context, entryID string) error
}

// EntryFlow runs the configuration flow.
type EntryFlow interface {
	Submit(ctx context.Context, in *setup.Input) (*setup.Result, error)
}

// Subscriber receives bridge state and events for the WebSocket relay.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Bridge    LockBridge
	Flow      EntryFlow
	Entries   setup.Store
	Lifecycle EntryLifecycle
	Audit     audit.Repository
	Metrics   *metrics.Collector
	MQTT      Subscriber
	Version   string
}

// Server is the HTTP API server for Aptus Home.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bridge    LockBridge
	flow      EntryFlow
	entries   setup.Store
	lifecycle EntryLifecycle
	auditRepo audit.Repository
	metrics   *metrics.Collector
	mqtt      Subscriber
	operator  *auth.Operator
	version   string
	startTime time.Time

	server  *http.Server
	hub     *eventHub
	tickets *ticketStore
	limiter *clientLimiter
	auditCh chan *audit.AuditLog
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("lock bridge is required")
	}
	if deps.Entries == nil || deps.Flow == nil || deps.Lifecycle == nil {
		return nil, fmt.Errorf("entry store, flow and lifecycle are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		flow:      deps.Flow,
		entries:   deps.Entries,
		lifecycle: deps.Lifecycle,
		auditRepo: deps.Audit,
		metrics:   deps.Metrics,
		mqtt:      deps.MQTT,
		operator:  auth.NewOperator(deps.Security.Admin.Username, deps.Security.Admin.PasswordHash),
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
		hub:       newEventHub(deps.Logger),
	}

	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		perSecond := rate.Limit(float64(rl.RequestsPerMinute) / 60)
		s.limiter = newClientLimiter(perSecond, max(1, rl.RequestsPerMinute/6))
	}
	if deps.Audit != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	return s, nil
}

// Handler builds the router. Start serves the same handler; tests use it
// directly with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays bridge state and buzz events from MQTT
// to WebSocket clients, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}
	if s.auditCh != nil {
		go func() {
			defer close(s.done)
			s.drainAuditLog(srvCtx)
		}()
	} else {
		close(s.done)
	}

	if err := s.subscribeBridgeEvents(); err != nil {
		s.logger.Warn("failed to subscribe to bridge events for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
