package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-querycache/pkg/invalidation"
	"github.com/illmade-knight/go-querycache/pkg/loaders"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var _ Service = (*QueryServer)(nil)

// RequestIDHeader carries the request id echoed on every response.
const RequestIDHeader = "X-Request-ID"

// KeyedLoader returns the loader that produces the value for key.
type KeyedLoader func(key string) query.Loader[any]

// InvalidationPublisher broadcasts invalidations to other instances.
type InvalidationPublisher interface {
	Publish(ctx context.Context, in invalidation.Instruction) (string, error)
}

// QueryServerConfig configures a QueryServer.
type QueryServerConfig struct {
	HTTPPort string
	// FetchOptions are applied to every GET /queries/{key}.
	FetchOptions []query.FetchOption
	// Gatherer is served on /metrics when set.
	Gatherer prometheus.Gatherer
	// Publisher, when set, receives every invalidation made through the API.
	Publisher InvalidationPublisher
}

// QueryServer serves a query.Cache backed by a KeyedLoader.
type QueryServer struct {
	*BaseServer
	cache     *query.Cache
	loaderFor KeyedLoader
	fetchOpts []query.FetchOption
	publisher InvalidationPublisher
}

// EntryView is the JSON form of a query.Entry.
type EntryView struct {
	Data        any        `json:"data,omitempty"`
	Error       string     `json:"error,omitempty"`
	IsLoading   bool       `json:"isLoading"`
	LastFetched *time.Time `json:"lastFetched,omitempty"`
}

// NewQueryServer creates a QueryServer and registers its routes.
func NewQueryServer(cfg QueryServerConfig, cache *query.Cache, loaderFor KeyedLoader, logger zerolog.Logger) *QueryServer {
	base := NewBaseServer(logger.With().Str("component", "QueryServer").Logger(), cfg.HTTPPort)
	s := &QueryServer{
		BaseServer: base,
		cache:      cache,
		loaderFor:  loaderFor,
		fetchOpts:  cfg.FetchOptions,
		publisher:  cfg.Publisher,
	}

	mux := base.Mux()
	mux.HandleFunc("GET /queries/{key}", s.handleFetch)
	mux.HandleFunc("DELETE /queries/{key}", s.handleInvalidate)
	mux.HandleFunc("GET /queries", s.handleSnapshot)
	mux.HandleFunc("DELETE /queries", s.handleInvalidateAll)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	base.setHandler(s.withRequestID(mux))
	return s
}

// Handler returns the server's root handler, for use with httptest.
func (s *QueryServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *QueryServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		s.Logger.Debug().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Msg("Handling request.")
		next.ServeHTTP(w, r)
	})
}

// handleFetch serves GET /queries/{key}. refresh=true bypasses the cached value.
// The fetch keeps running if the client goes away; its result is still cached.
func (s *QueryServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	opts := s.fetchOpts
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		opts = append(append([]query.FetchOption(nil), opts...), query.WithStaleTime(0))
	}

	data, err := s.cache.Fetch(context.WithoutCancel(r.Context()), key, s.loaderFor(key), opts...)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, loaders.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if raw, ok := data.([]byte); ok {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *QueryServer) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.cache.Snapshot()
	out := make(map[string]EntryView, len(snapshot))
	for key, ent := range snapshot {
		out[key] = NewEntryView(ent)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *QueryServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	in := invalidation.Instruction{Key: r.PathValue("key")}
	in.Apply(s.cache)
	s.broadcast(w, r, in)
}

func (s *QueryServer) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	in := invalidation.Instruction{All: true}
	in.Apply(s.cache)
	s.broadcast(w, r, in)
}

// broadcast forwards a local invalidation to the publisher and writes the response.
// The local cache is already invalidated when publishing fails.
func (s *QueryServer) broadcast(w http.ResponseWriter, r *http.Request, in invalidation.Instruction) {
	if s.publisher != nil {
		if _, err := s.publisher.Publish(r.Context(), in); err != nil {
			s.Logger.Error().Err(err).Str("key", in.Key).Bool("all", in.All).Msg("Failed to broadcast invalidation.")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewEntryView converts an entry to its JSON form.
func NewEntryView(ent query.Entry) EntryView {
	v := EntryView{Data: ent.Data, IsLoading: ent.IsLoading}
	if raw, ok := ent.Data.([]byte); ok {
		v.Data = string(raw)
	}
	if ent.Err != nil {
		v.Error = ent.Err.Error()
	}
	if ent.Fetched() {
		t := ent.LastFetched
		v.LastFetched = &t
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
