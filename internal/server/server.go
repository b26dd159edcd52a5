// Package server accepts dashboard connections over WebSocket and runs the
// per-connection shell, telemetry and command handling.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Extra-Chill/plasma-bridge/internal/audit"
	"github.com/Extra-Chill/plasma-bridge/internal/guard"
	"github.com/Extra-Chill/plasma-bridge/internal/hostops"
	"github.com/Extra-Chill/plasma-bridge/internal/shell"
	"github.com/Extra-Chill/plasma-bridge/internal/telemetry"
)

const (
	SocketPath = "/socket"
	HealthPath = "/health"

	maxFrameSize = 32 << 20
)

type Config struct {
	Addr    string
	OwnerID string

	Guard *guard.Guard
	Audit *audit.Log

	// Optional; host implementations are used when nil.
	Files      *hostops.Files
	Processes  hostops.Lister
	Power      hostops.Runner
	Sampler    telemetry.Sampler
	SystemInfo func() hostops.SystemInfo
	Shell      *shell.Options

	GOOS          string
	StatsInterval time.Duration
	Logger        zerolog.Logger
}

type Server struct {
	config   Config
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
	conns  map[*conn]struct{}
	wg     sync.WaitGroup
}

func NewServer(config Config) (*Server, error) {
	if config.Addr == "" {
		return nil, errors.New("listen address required")
	}
	if config.Guard == nil {
		return nil, errors.New("guard required")
	}
	if config.Audit == nil {
		return nil, errors.New("audit log required")
	}
	if config.Files == nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("home directory: %w", err)
		}
		config.Files = hostops.NewFiles(home)
	}
	if config.Processes == nil {
		config.Processes = hostops.HostLister{}
	}
	if config.Power == nil {
		config.Power = hostops.ExecRunner{}
	}
	if config.Sampler == nil {
		config.Sampler = telemetry.HostSampler{}
	}
	if config.SystemInfo == nil {
		config.SystemInfo = hostops.CurrentSystemInfo
	}
	if config.Shell == nil {
		opts := shell.DefaultOptions()
		config.Shell = &opts
	}
	if config.GOOS == "" {
		config.GOOS = runtime.GOOS
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = telemetry.DefaultInterval
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authorization happens per message, not per origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: config.Logger,
		conns:  make(map[*conn]struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP routes: the health probe and the socket endpoint.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(SocketPath, s.handleSocket)
	return r
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	go s.serve()
	return nil
}

func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Close stops accepting connections, tears down every open connection and
// waits for their shells to be reaped.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.http.Close()
	for _, c := range conns {
		c.terminate(false)
	}
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if !s.isClosed() {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameSize)

	c, err := newConn(s, ws, normalizeIP(r.RemoteAddr))
	if err != nil {
		s.logger.Error().Err(err).Msg("connection setup failed")
		ws.Close()
		return
	}
	if !s.track(c) {
		c.terminate(false)
		c.run()
		return
	}
	defer s.untrack(c)
	c.run()
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// normalizeIP strips the port and unwraps IPv4-mapped IPv6 addresses so one
// client always maps to one guard key.
func normalizeIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		if host == "" {
			return "unknown"
		}
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
