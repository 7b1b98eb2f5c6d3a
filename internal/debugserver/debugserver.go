// Package debugserver exposes net/http/pprof on an operator-chosen address.
// Off by default; loopback bind unless a token is configured.
package debugserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"remindbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string
}

type Server struct {
	cfg Config
	log logx.Logger
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log}
}

// Start binds and serves in the background. Refuses a non-loopback bind
// without a token.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("debugserver: bad addr %q: %w", s.cfg.Addr, err)
	}
	if s.cfg.Token == "" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("debugserver: refusing non-loopback bind %q without a token", s.cfg.Addr)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	var handler http.Handler = mux
	if s.cfg.Token != "" {
		handler = s.requireToken(mux)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("debugserver: listen: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
		// No WriteTimeout: /profile legitimately takes 30s+.
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server exited", logx.Err(err))
		}
	}()
	s.log.Info("debug server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address, empty if not started. Useful in tests with
// port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
