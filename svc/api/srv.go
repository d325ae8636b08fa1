package api

import (
	"context"
	"ctrlv/cfg"
	"ctrlv/metrics"
	"ctrlv/svc/db"
	"ctrlv/svc/lim"
	"ctrlv/svc/svc"
	"ctrlv/svc/util"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	store      db.Store
	rdb        *db.Redis
	httpServer *http.Server
}

// Deps are the collaborators the transport needs. Redis and Hasher are
// optional.
type Deps struct {
	Paste   *svc.Paste
	Limiter *lim.Limiter
	Store   db.Store
	Redis   *db.Redis
	Hasher  *util.IPHasher
}

func NewServer(c *cfg.Cfg, d Deps) *Server {
	s := &Server{cfg: c, store: d.Store, rdb: d.Redis}
	mw := NewMw(d.Limiter, c)
	hdl := &Hdl{paste: d.Paste, lim: d.Limiter, hasher: d.Hasher, cfg: c}

	r := chi.NewRouter()
	r.Use(mw.Recoverer)
	r.Use(mw.RequestID)
	r.Use(hlog.NewHandler(util.GetLogger()))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.RequestDuration.
			WithLabelValues(req.Method, route, strconv.Itoa(status)).
			Observe(dur.Seconds())
		hlog.FromRequest(req).Info().
			Str("method", req.Method).
			Str("route", route).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Str("request_id", util.GetRequestID(req.Context())).
			Msg("http request")
	}))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.CORS)

	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)
	r.With(mw.BasicAuthMetrics).Handle("/metrics", promhttp.Handler())
	r.With(mw.BasicAuthMetrics).Mount("/debug", middleware.Profiler())

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.ContextTimeout)
		r.Use(mw.JSONContentType)
		r.Use(mw.AnomalyDetection)
		r.Use(mw.RateLimitAPI)
		r.With(mw.RateLimitCreate).Post("/pastes", hdl.CreatePaste)
		if c.ListEndpointEnabled {
			r.Get("/pastes", hdl.ListPastes)
		}
		r.Get("/pastes/recent", hdl.RecentPastes)
		r.Get("/pastes/search", hdl.SearchPastes)
		r.Get("/pastes/{key}", hdl.GetPaste)
		r.Delete("/pastes/{id}", hdl.DeletePaste)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
