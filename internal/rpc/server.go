package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// ServerConfig holds the listener and per-request settings.
type ServerConfig struct {
	ListenAddr      string
	WSAddr          string // empty disables the WebSocket endpoint
	DefaultTimeout  time.Duration
	MaxRequestBytes int64
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server is the JSON-RPC HTTP and WebSocket server.
type Server struct {
	httpServer *http.Server
	wsServer   *http.Server
	handler    *Handler
	ws         *WSManager
	logger     log.Logger
	cfg        ServerConfig
}

// NewServer creates a new RPC server.
func NewServer(cfg ServerConfig, handler *Handler) *Server {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	s := &Server{
		handler: handler,
		logger:  log.New("module", "rpc"),
		cfg:     cfg,
	}
	s.ws = NewWSManager(handler, cfg.DefaultTimeout, cfg.MaxRequestBytes)
	return s
}

// WS returns the WebSocket manager, used to push notifications.
func (s *Server) WS() *WSManager { return s.ws }

// Routes returns the HTTP routes: JSON-RPC on / and readiness on /health.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for JSON-RPC requests on HTTP and WebSocket.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.DefaultTimeout + 5*time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("JSON-RPC HTTP server starting", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.cfg.WSAddr != "" {
		s.wsServer = &http.Server{
			Addr:        s.cfg.WSAddr,
			Handler:     http.HandlerFunc(s.ws.HandleWS),
			BaseContext: func(_ net.Listener) context.Context { return ctx },
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("JSON-RPC WebSocket server starting", "addr", s.cfg.WSAddr)
			if err := s.wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ws server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down both servers.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down RPC servers")
	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	if s.wsServer != nil {
		errs = append(errs, s.wsServer.Shutdown(ctx))
	}
	s.ws.CloseAll()
	return errors.Join(errs...)
}

// requestTimeout is the caller's X-Request-Timeout (milliseconds) capped by
// the configured default.
func (s *Server) requestTimeout(r *http.Request) time.Duration {
	timeout := s.cfg.DefaultTimeout
	if v := r.Header.Get("X-Request-Timeout"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			if d := time.Duration(ms) * time.Millisecond; d < timeout {
				timeout = d
			}
		}
	}
	return timeout
}

// handleHTTP processes incoming JSON-RPC HTTP requests.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := uuid.NewString()
	w.Header().Set("X-Request-Id", id)

	var req JSONRPCRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeResponse(w, newError(nil, &JSONRPCError{
				Code:    codeInvalidRequest,
				Message: fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit),
			}))
			return
		}
		s.writeResponse(w, newError(nil, &JSONRPCError{Code: codeParseError, Message: "parse error"}))
		return
	}

	ctx, cancel := context.WithTimeout(withRequestID(r.Context(), id), s.requestTimeout(r))
	defer cancel()

	s.writeResponse(w, s.handler.Handle(ctx, &req))
}

// handleHealth returns the readiness report.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.handler.Health())
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Failed to write response", "err", err)
	}
}
