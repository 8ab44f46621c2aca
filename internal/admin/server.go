// Package admin serves the local HTTP control surface of the dispatcher.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/signalqueue/internal/consts"
	"github.com/codefionn/signalqueue/internal/logger"
	"github.com/codefionn/signalqueue/internal/signal"
	"github.com/codefionn/signalqueue/internal/signalserver"
)

// Dispatcher is the part of the TCP dispatcher the admin API reports on
type Dispatcher interface {
	Addr() net.Addr
	IsRunning() bool
	Slots() []signalserver.SlotInfo
	Stats() signalserver.StatsSnapshot
}

// Status is the body of GET /status
type Status struct {
	Running  bool                       `json:"running"`
	Address  string                     `json:"address,omitempty"`
	Uptime   string                     `json:"uptime"`
	PoolSize int                        `json:"pool_size"`
	Busy     int                        `json:"busy"`
	Slots    []signalserver.SlotInfo    `json:"slots"`
	Stats    signalserver.StatsSnapshot `json:"stats"`
	Signal   *signal.Update             `json:"signal,omitempty"`
}

// Server provides the admin HTTP interface
type Server struct {
	addr       string
	dispatcher Dispatcher
	board      *signal.Board
	shutdown   func()
	router     *httprouter.Router
	upgrader   websocket.Upgrader
	log        *logger.Logger
	started    time.Time

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates an admin server bound to addr. board and shutdown are
// optional; their routes are only registered when they are set.
func NewServer(addr string, dispatcher Dispatcher, board *signal.Board, shutdown func()) *Server {
	s := &Server{
		addr:       addr,
		dispatcher: dispatcher,
		board:      board,
		shutdown:   shutdown,
		router:     httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     logger.Global().WithPrefix("admin"),
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)

	if s.shutdown != nil {
		s.router.POST("/shutdown", s.handleShutdown)
	}

	if s.board != nil {
		s.router.GET("/signal", s.handleSignal)
		s.router.GET("/signal/ws", s.handleSignalWebSocket)
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the admin address
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve handles requests until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.AdminReadTimeout,
		ErrorLog:          logger.StdLogger(s.log, logger.LevelWarn),
		// websocket feeds end when ctx does
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.AdminShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Admin shutdown: %v", err)
		}
	})
	defer stop()

	s.log.Info("Admin API listening on http://%s", ln.Addr())
	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Info("Admin API stopped")
		return nil
	}
	return err
}

// handleHealth reports whether the dispatcher is accepting connections
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	status := "ok"
	code := http.StatusOK
	if !s.dispatcher.IsRunning() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.log.Info("Shutdown requested by %s", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	s.shutdown()
}

func (s *Server) handleSignal(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.board.Current())
}

// Status collects the current dispatcher state
func (s *Server) Status() Status {
	slots := s.dispatcher.Slots()
	busy := 0
	for _, slot := range slots {
		if slot.Busy {
			busy++
		}
	}

	status := Status{
		Running:  s.dispatcher.IsRunning(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		PoolSize: len(slots),
		Busy:     busy,
		Slots:    slots,
		Stats:    s.dispatcher.Stats(),
	}
	if addr := s.dispatcher.Addr(); addr != nil {
		status.Address = addr.String()
	}
	if s.board != nil {
		if current := s.board.Current(); current.Seq > 0 {
			status.Signal = &current
		}
	}
	return status
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("admin: failed to write response: %v", err)
	}
}
