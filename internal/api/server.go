package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/metrics"
	"github.com/Isagog/copertinefull/internal/store"
)

const (
	defaultLimit = 30
	maxLimit     = 366
)

// Reader is the store surface the API needs.
type Reader interface {
	QueryByField(ctx context.Context, collection, field, value string, limit int) ([]store.Object, error)
	QueryByRange(ctx context.Context, collection string, r store.Range, limit int) ([]store.Object, error)
	List(ctx context.Context, collection string, limit int) ([]store.Object, error)
}

// Cache stores rendered responses. Implementations must treat a miss as
// (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Config controls the server.
type Config struct {
	Collection string
	APIKey     string
}

// Server wires HTTP handlers to the edition store.
type Server struct {
	router chi.Router
	reader Reader
	cache  Cache
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. cache may be nil.
func NewServer(reader Reader, cache Cache, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{reader: reader, cache: cache, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/editions", s.listEditions)
		r.Get("/editions/{date}", s.getEdition)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// EditionView is the JSON shape of an edition.
type EditionView struct {
	ID                 string `json:"id"`
	EditionID          string `json:"edition_id"`
	Date               string `json:"date"`
	Publisher          string `json:"publisher"`
	ImageFilename      string `json:"image_filename"`
	Caption            string `json:"caption"`
	Kicker             string `json:"kicker"`
	AICaption          string `json:"ai_caption,omitempty"`
	AIImageDescription string `json:"ai_image_description,omitempty"`
	AIModelName        string `json:"ai_model_name,omitempty"`
}

func newView(ed edition.Edition) EditionView {
	return EditionView{
		ID:                 ed.StoreID,
		EditionID:          ed.BusinessKey,
		Date:               ed.PublicationDate.Format(edition.ISODateLayout),
		Publisher:          ed.PublisherName,
		ImageFilename:      ed.ImageFilename,
		Caption:            ed.Caption,
		Kicker:             ed.Kicker,
		AICaption:          ed.AICaption,
		AIImageDescription: ed.AIImageDescription,
		AIModelName:        ed.AIModelName,
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.reader.List(ctx, s.cfg.Collection, 1); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getEdition(w http.ResponseWriter, r *http.Request) {
	date, err := edition.ParseISODate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	key := edition.BusinessKey(date)
	s.cached(w, r, "edition/"+key, func(ctx context.Context) (int, any, error) {
		objs, err := s.reader.QueryByField(ctx, s.cfg.Collection, edition.PropBusinessKey, key, 1)
		if err != nil {
			return 0, nil, fmt.Errorf("query edition: %w", err)
		}
		if len(objs) == 0 {
			return http.StatusNotFound, map[string]string{"error": "edition not found"}, nil
		}
		ed, err := edition.FromProperties(objs[0].ID, objs[0].Properties)
		if err != nil {
			return 0, nil, fmt.Errorf("decode edition: %w", err)
		}
		return http.StatusOK, newView(ed), nil
	})
}

func (s *Server) listEditions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng := store.Range{Field: edition.PropPublicationDate, Order: store.Descending}
	if from := q.Get("from"); from != "" {
		d, err := edition.ParseISODate(from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		rng.GTE = d.Format(time.RFC3339)
	}
	if to := q.Get("to"); to != "" {
		d, err := edition.ParseISODate(to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		rng.LTE = d.Add(24*time.Hour - time.Second).Format(time.RFC3339)
	}
	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
			return
		}
		limit = n
	}

	cacheKey := fmt.Sprintf("editions/%s/%s/%d", rng.GTE, rng.LTE, limit)
	s.cached(w, r, cacheKey, func(ctx context.Context) (int, any, error) {
		objs, err := s.reader.QueryByRange(ctx, s.cfg.Collection, rng, limit)
		if err != nil {
			return 0, nil, fmt.Errorf("query editions: %w", err)
		}
		views := make([]EditionView, 0, len(objs))
		for _, obj := range objs {
			ed, err := edition.FromProperties(obj.ID, obj.Properties)
			if err != nil {
				s.logger.Warn("Skipping undecodable edition", zap.String("store_id", obj.ID), zap.Error(err))
				continue
			}
			views = append(views, newView(ed))
		}
		return http.StatusOK, map[string]any{"editions": views, "count": len(views)}, nil
	})
}

// cached serves key from the cache when possible. Only 200 responses are stored.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, load func(context.Context) (int, any, error)) {
	ctx := r.Context()
	if s.cache != nil {
		body, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
	}

	status, payload, err := load(ctx)
	if err != nil {
		s.logger.Error("Edition query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		writeError(w, http.StatusInternalServerError, "encode response")
		return
	}
	if s.cache != nil && status == http.StatusOK {
		if err := s.cache.Set(ctx, key, buf.Bytes()); err != nil {
			s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if s.cache != nil {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
