// Package gateway serves a local authority to remote wizard clients over
// HTTP and streams domain events over WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/infra/middleware"
)

// StatusStore keeps the installation status reported by the installer.
type StatusStore interface {
	domain.InstallationStatusSource
	PutStatus(ctx context.Context, st domain.InstallationStatus) error
}

// Deps are the collaborators the server exposes.
type Deps struct {
	Resume      domain.ResumeAuthority
	Versions    domain.VersionAuthority
	Checkpoints domain.CheckpointAuthority
	Install     StatusStore
	Validator   domain.ConfigValidator // nil answers 501
	Bus         domain.EventBus
	Metrics     *metrics.Metrics // nil disables /metrics
}

// clientConn tracks a single WebSocket subscriber.
type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan domain.Event // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the authority HTTP server.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	logger  *slog.Logger
	clients sync.Map // connID (uint64) -> *clientConn
	nextID  atomic.Uint64

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
}

// NewServer creates a server. Call Start to listen.
func NewServer(deps Deps, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, cfg: cfg, logger: logger}
}

// Handler builds the routed, authenticated handler and starts forwarding
// bus events to subscribers. ctx bounds the rate limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.mu.Lock()
	if s.deps.Bus != nil && s.unsubAll == nil {
		s.unsubAll = s.deps.Bus.SubscribeAll(s.broadcast)
	}
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.routes(mux)

	api := middleware.Chain(mux,
		middleware.RequestLog(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RequestsPerMin,
			BurstSize:      s.cfg.Burst,
			TrustedProxies: s.cfg.TrustedProxies,
		}),
		middleware.BearerToken(s.cfg.Token),
	)

	root := http.NewServeMux()
	root.Handle("/", api)
	if s.deps.Metrics != nil {
		// Scraped without the API token.
		root.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return root
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("authority server listen: %w", err)
	}

	srv := &http.Server{Handler: s.Handler(ctx), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("authority server started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("authority server serve: %w", err)
	}
	return nil
}

// Stop closes subscribers and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub, srv := s.unsubAll, s.httpSrv
	s.unsubAll = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// broadcast forwards ev to every subscriber. Slow subscribers lose events
// rather than stalling the bus.
func (s *Server) broadcast(_ context.Context, ev domain.Event) {
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- ev:
		default:
			s.logger.Warn("authority server: dropped event for slow client", "type", ev.Type)
		}
		return true
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("event subscriber connected", "conn_id", connID)

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx := ws.CloseRead(r.Context())
	s.writeLoop(ctx, cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("event subscriber disconnected", "conn_id", connID)
}

func (s *Server) writeLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cc.done:
			return
		case ev := <-cc.sendCh:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, cc.ws, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
