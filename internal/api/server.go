package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"dlqueue/internal/queue"
	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Queue is what the API needs from the queue manager
type Queue interface {
	Submit(target models.Target) (models.Job, error)
	Resume(id string) (models.Job, error)
	Get(id string) (models.Job, error)
	Progress(id string) (models.Progress, error)
	Status() queue.Status
	Cancel(id string) (models.Job, error)
	ClearCompleted() int
	DeleteInterrupted(id string) error
	DeleteAllInterrupted() int
	Subscribe(buffer int) (<-chan queue.Notification, func())
	Stats() queue.BrokerStats
	Persistence() queue.PersistenceStatus
}

// Server exposes a Queue over HTTP
type Server struct {
	cfg       config.ServerConfig
	queue     Queue
	logger    logger.Logger
	startedAt time.Time
	heartbeat time.Duration
}

// NewServer creates the HTTP API for q
func NewServer(cfg config.ServerConfig, q Queue, log logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		queue:     q,
		logger:    logger.OrDefault(log).WithField("component", "api"),
		startedAt: time.Now(),
		heartbeat: 15 * time.Second,
	}
}

// Router configures the API routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/api/health", s.Health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/downloads", s.Submit).Methods("POST")
	api.HandleFunc("/downloads", s.Status).Methods("GET")
	api.HandleFunc("/downloads/{id}", s.GetJob).Methods("GET")
	api.HandleFunc("/downloads/{id}/progress", s.GetProgress).Methods("GET")
	api.HandleFunc("/downloads/{id}", s.Cancel).Methods("DELETE")
	api.HandleFunc("/completed", s.ClearCompleted).Methods("DELETE")
	api.HandleFunc("/incomplete/{id}", s.DeleteInterrupted).Methods("DELETE")
	api.HandleFunc("/incomplete", s.DeleteAllInterrupted).Methods("DELETE")
	api.HandleFunc("/incomplete/{id}/resume", s.Resume).Methods("POST")
	api.HandleFunc("/events", s.Events).Methods("GET")
	return r
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.Router())
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.LogComponentStart(s.logger, "api", map[string]interface{}{
		"address": ln.Addr().String(),
		"auth":    s.cfg.APIToken != "",
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	logger.LogComponentStop(s.logger, "api", "shutdown")
	return err
}
