// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"techlab-bot/internal/web"
	"techlab-bot/pkg/logger"
)

const serviceName = "TechLab Bot Server"

type Options struct {
	Port    string
	Version string
	// Webhook receives signed payment events.
	Webhook http.HandlerFunc
	Web     *web.Handler
	// CRMCredentials protects the dashboard with basic auth when non-empty.
	CRMCredentials map[string]string
	Logger         *logger.Logger
}

type Server struct {
	server *http.Server
	logger *logger.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Logger.Named("http")

	httpServer := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      newRouter(opts, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		server: httpServer,
		logger: log,
	}
}

func newRouter(opts Options, log *logger.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"message": "TechLab Digital Solutions Bot Server",
			"service": serviceName,
			"version": opts.Version,
			"features": []string{
				"Telegram Bot Integration",
				"Database Storage (PostgreSQL)",
				"Payment Processing (Stripe)",
				"CRM Dashboard",
				"Webhook Handling",
			},
			"endpoints": map[string]string{
				"health":   "/health",
				"payment":  "/payment?client_secret=...",
				"crm":      "/crm",
				"crm_api":  "/api/crm/dashboard",
				"students": "/api/crm/students",
				"webhook":  "/webhook/stripe",
			},
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   serviceName,
		})
	})

	r.Post("/webhook/stripe", opts.Webhook)

	opts.Web.MountPayment(r)
	r.Group(func(r chi.Router) {
		if len(opts.CRMCredentials) > 0 {
			r.Use(middleware.BasicAuth("TechLab CRM", opts.CRMCredentials))
		}
		opts.Web.MountCRM(r)
	})

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Infow("HTTP request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks until the server stops. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.logger.Infow("Starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Infow("Starting HTTP server", "addr", l.Addr().String())
	return s.server.Serve(l)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
