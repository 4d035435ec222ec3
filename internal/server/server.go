package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sparkrag/internal/domain"
	"sparkrag/internal/service"
)

// RAG is the service surface the HTTP API exposes.
type RAG interface {
	AddText(ctx context.Context, text string, md domain.Metadata) (string, error)
	AddBatch(ctx context.Context, texts []string, metadatas []domain.Metadata) (int, error)
	Search(ctx context.Context, query string, topK int, filter domain.Metadata) ([]domain.SearchResult, error)
	Delete(ctx context.Context, filter domain.Metadata) (int, error)
	Ask(ctx context.Context, query string, topK int) (service.Answer, error)
	AskStream(ctx context.Context, query string, topK int) (domain.AnswerStream, []domain.SearchResult, error)
}

// Options configures a Server.
type Options struct {
	Addr           string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	AskTopK        int
	SearchTopK     int
}

type Server struct {
	Router *chi.Mux
	addr   string
	rag    RAG
	opts   Options
	logger *slog.Logger
}

func New(rag RAG, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 5 * time.Minute
	}
	if opts.AskTopK <= 0 {
		opts.AskTopK = 3
	}
	if opts.SearchTopK <= 0 {
		opts.SearchTopK = 5
	}
	s := &Server{Router: chi.NewRouter(), addr: opts.Addr, rag: rag, opts: opts, logger: logger}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "sparkrag")
	})

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(opts.RequestTimeout))
		r.Post("/ask", s.handleAsk)
		r.Post("/add", s.handleAdd)
		r.Post("/add_batch", s.handleAddBatch)
		r.Post("/search", s.handleSearch)
		r.Post("/delete", s.handleDelete)
	})
	r.With(TimeoutMiddleware(opts.StreamTimeout)).Post("/ask/stream", s.handleAskStream)
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
