// Package web serves databases over HTTP: HTML pages, JSON, CSV exports
// and database downloads.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/dataserve/internal/config"
	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/JonMunkholm/dataserve/internal/metadata"
	"github.com/JonMunkholm/dataserve/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is reported on pages and in /-/versions.json.
const Version = "0.9.0"

// App is everything the server serves.
type App struct {
	Catalog   *core.Catalog
	Metadata  *metadata.Metadata
	Counts    core.CountFunc
	Templates core.TemplateRenderer
	Cells     core.CellChain
	Exports   *core.ExportLimiter
}

// Server is the HTTP server.
type Server struct {
	app    App
	cfg    *config.Config
	router *chi.Mux
	server *http.Server

	renderers  *core.RendererRegistry
	resolver   *core.HashResolver
	negotiator core.FormatNegotiator
	dispatcher *core.Dispatcher
	exporter   *core.Exporter
	cache      core.CachePolicy
	queries    *core.QueryExecutor
	tables     *core.TableSource
	databases  *core.DatabaseSource
	limiter    *middleware.RateLimiter
	stopJobs   context.CancelFunc
}

// NewServer wires the core components from cfg.
func NewServer(app App, cfg *config.Config) *Server {
	s := &Server{
		app:       app,
		cfg:       cfg,
		router:    chi.NewRouter(),
		renderers: core.NewRendererRegistry(),
	}
	if err := s.renderers.Register(core.FormatJSON, core.RenderJSON); err != nil {
		panic(err)
	}
	formats := s.renderers.Names()
	settings := cfg.Settings

	s.resolver = &core.HashResolver{Catalog: app.Catalog, HashURLs: settings.HashURLs, Formats: formats}
	s.negotiator = core.FormatNegotiator{Formats: formats}
	s.cache = core.CachePolicy{
		Enabled:    settings.CacheHeaders,
		DefaultTTL: settings.DefaultCacheTTL,
		HashedTTL:  settings.DefaultCacheTTLHash,
		CORS:       settings.CORS,
	}
	s.queries = &core.QueryExecutor{
		Cells:           app.Cells,
		MaxReturnedRows: settings.MaxReturnedRows,
		TimeLimit:       settings.SQLTimeLimit(),
	}
	s.tables = &core.TableSource{
		Cells:           app.Cells,
		DefaultPageSize: settings.DefaultPageSize,
		MaxReturnedRows: settings.MaxReturnedRows,
		TimeLimit:       settings.SQLTimeLimit(),
		HashURLs:        settings.HashURLs,
		LabelColumn:     app.Metadata.LabelColumn,
	}
	s.databases = &core.DatabaseSource{
		Queries:  s.queries,
		AllowSQL: settings.AllowSQL,
		Counts:   app.Counts,
		HashURLs: settings.HashURLs,
	}
	s.dispatcher = &core.Dispatcher{
		Renderers:     s.renderers,
		Templates:     app.Templates,
		Info:          app.Metadata.DatasetInfo,
		Version:       Version,
		Settings:      settings.Map(),
		TemplateDebug: settings.TemplateDebug,
	}
	s.exporter = &core.Exporter{
		AllowStream: settings.AllowCSVStream,
		MaxBytes:    settings.MaxCSVBytes(),
		Limiter:     app.Exports,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.limiter = middleware.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.Burst)
		ctx, cancel := context.WithCancel(context.Background())
		s.stopJobs = cancel
		go s.limiter.Cleanup(ctx, time.Minute)
		s.router.Use(s.limiter.Middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/.json", s.handleIndex)
	s.router.Get("/-/metrics", promhttp.Handler().ServeHTTP)
	s.router.Get("/-/versions.json", s.handleVersions)
	s.router.Get("/-/exports.json", s.handleExportStatus)

	s.router.Options("/*", s.handleOptions)

	s.router.Get("/{db}", s.handleDatabase)
	s.router.Get("/{db}/{table}", s.handleTable)
	s.router.Post("/{db}/{table}", s.handleTable)
	s.router.Get("/{db}/{table}/{pk}", s.handleRow)
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopJobs != nil {
		s.stopJobs()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		}
		next.ServeHTTP(w, r)
	})
}
