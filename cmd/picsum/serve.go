package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/picsum-client/pkg/metadata"
	"github.com/Sternrassler/picsum-client/pkg/metrics"
	"github.com/Sternrassler/picsum-client/pkg/pagination"
	"github.com/Sternrassler/picsum-client/pkg/resolver"
)

// maxListCount bounds /v1/list requests.
const maxListCount = 5000

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve listings and resolved images over HTTP",
		Long: `Starts an HTTP server exposing:

  GET /health                           liveness
  GET /ready                            readiness (Redis reachable when configured)
  GET /metrics                          Prometheus metrics
  GET /v1/list?count=N                  fetch a listing (JSON)
  GET /v1/images/{id}?size=thumbnail    image bytes for a record of the last listing`,
		Example: `  # Start server on default port 8080
  picsum serve

  # Start server on custom port with a Redis cache
  REDIS_URL=localhost:6379 picsum serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           newServer(a.newCoordinator, a.resolver, a.ping).routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("base_url", root.cfg.BaseURL).Msg("Starting picsum server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				log.Info().Msg("Shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Server shutdown failed")
					return err
				}
				log.Info().Msg("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8080", "Port to listen on")

	return cmd
}

// server adapts listings and the resolver to HTTP. Image lookups use the
// records of the most recent listing.
type server struct {
	listings func() *pagination.Coordinator
	resolver *resolver.Resolver
	ping     func(context.Context) error
	logger   zerolog.Logger

	mu      sync.RWMutex
	records map[string]metadata.Record
}

// newServer creates the HTTP adapter. listings returns a coordinator for one
// request, so concurrent clients never supersede each other. ping reports
// readiness; nil means always ready.
func newServer(listings func() *pagination.Coordinator, res *resolver.Resolver, ping func(context.Context) error) *server {
	return &server{
		listings: listings,
		resolver: res,
		ping:     ping,
		logger:   log.With().Str("component", "server").Logger(),
		records:  make(map[string]metadata.Record),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /v1/list", s.handleList)
	mux.HandleFunc("GET /v1/images/{id}", s.handleImage)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type listResponse struct {
	Count       int               `json:"count"`
	Records     []metadata.Record `json:"records"`
	FailedPages []int             `json:"failed_pages,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	count := 30
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxListCount {
			writeError(w, http.StatusBadRequest, "count must be an integer in 0.."+strconv.Itoa(maxListCount))
			return
		}
		count = n
	}

	records, err := s.listings().FetchList(r.Context(), count).Wait(r.Context())

	resp := listResponse{}
	var fetchErr *pagination.FetchError
	switch {
	case err == nil:
	case errors.As(err, &fetchErr):
		for _, f := range fetchErr.Failed {
			resp.FailedPages = append(resp.FailedPages, f.Page.Number)
		}
		resp.Error = err.Error()
		if len(records) == 0 {
			writeJSONStatus(w, http.StatusBadGateway, resp)
			return
		}
	case errors.Is(err, pagination.ErrStall), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.Is(err, pagination.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	sortRecords(records)
	resp.Count = len(records)
	resp.Records = records

	index := make(map[string]metadata.Record, len(records))
	for _, rec := range records {
		index[rec.ID] = rec
	}
	s.mu.Lock()
	s.records = index
	s.mu.Unlock()

	writeJSONStatus(w, http.StatusOK, resp)
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	size, err := metadata.ParseSizeClass(r.URL.Query().Get("size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown record "+strconv.Quote(id)+"; fetch /v1/list first")
		return
	}

	data, err := s.resolver.Fetch(r.Context(), rec, size)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, metadata.ErrMalformedURL):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			status = http.StatusGatewayTimeout
		}
		s.logger.Warn().
			Err(err).
			Str("record_id", id).
			Str("size", size.String()).
			Msg("Image request failed")
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := writeJSON(w, v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
