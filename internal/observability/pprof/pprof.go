// Package pprof serves the runtime profiling endpoints on a separate
// listener so they never share a port with the admin API.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"shopbot/pkg/logx"
)

type Config struct {
	Addr  string // default "127.0.0.1:6060"
	Token string // required for non-loopback binds
}

type Server struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	return &Server{cfg: cfg, log: log}
}

// Run serves until ctx is cancelled. A non-loopback bind without a token
// is refused rather than silently exposed.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Token == "" && !isLoopback(s.cfg.Addr) {
		return errors.New("pprof: non-loopback addr requires a token")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", s.withAuth(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", s.withAuth(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", s.withAuth(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", s.withAuth(hpprof.Trace))

	srv := &http.Server{Addr: s.cfg.Addr, Handler: mux, ReadTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("pprof listening", logx.String("addr", s.cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(ah, prefix) && strings.TrimSpace(strings.TrimPrefix(ah, prefix)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
