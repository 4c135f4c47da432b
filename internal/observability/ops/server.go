// Package ops serves the operational HTTP surface: Prometheus metrics, a
// health report and, when enabled, net/http/pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "dispatchbot/pkg/logx"
)

type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
	PprofPrefix   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// HealthFunc reports problems; an empty map means healthy. Keys name the
// failing component.
type HealthFunc func(ctx context.Context) map[string]string

type Server struct {
	cfg      Config
	gatherer prometheus.Gatherer
	health   HealthFunc
	log      logx.Logger
}

func New(cfg Config, gatherer prometheus.Gatherer, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	cfg.PprofPrefix = normalizePrefix(cfg.PprofPrefix)
	return &Server{cfg: cfg, gatherer: gatherer, health: health, log: log}
}

// Handler returns the routed mux with auth applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.serveHealth)

	if s.cfg.Pprof {
		prefix := s.cfg.PprofPrefix
		base := strings.TrimSuffix(prefix, "/")
		mux.HandleFunc(prefix, pprofIndexAt(prefix))
		mux.HandleFunc(base+"/cmdline", hpprof.Cmdline)
		mux.HandleFunc(base+"/profile", hpprof.Profile)
		mux.HandleFunc(base+"/symbol", hpprof.Symbol)
		mux.HandleFunc(base+"/trace", hpprof.Trace)
	}
	return withAuth(s.cfg.Token, mux)
}

type healthReport struct {
	Status   string            `json:"status"`
	Problems map[string]string `json:"problems,omitempty"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	rep := healthReport{Status: "ok"}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		rep.Problems = s.health(ctx)
		cancel()
	}
	code := http.StatusOK
	if len(rep.Problems) > 0 {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// Run listens and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		if !s.cfg.AllowInsecure {
			return fmt.Errorf("ops server refused to start: %s is not loopback and no token is set", addr)
		}
		s.log.Warn("ops server running without token on non-loopback addr", logx.String("addr", addr))
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("ops listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("ops server stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(v)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt serves pprof.Index under a custom prefix. Index resolves
// profile names relative to /debug/pprof/.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
