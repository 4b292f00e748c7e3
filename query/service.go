package query

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/vector"
)

// Embedder produces query-side vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorReader is the vector store surface the service reads.
type VectorReader interface {
	SearchChunks(ctx context.Context, vec []float32, limit int, f vector.Filters) ([]vector.Hit, error)
	SearchExtractions(ctx context.Context, vec []float32, limit int, f vector.Filters) ([]vector.Hit, error)
	ListExtractions(ctx context.Context, extractionType string, limit int, topic string) ([]vector.Hit, error)
	HealthCheck(ctx context.Context) error
}

// DocumentReader is the document store surface the service reads.
type DocumentReader interface {
	GetSources(ctx context.Context, ids []string) (map[string]*knowledge.Source, error)
	GetExtraction(ctx context.Context, id string) (*knowledge.Extraction, error)
	Ping(ctx context.Context) error
}

// Service answers read-only knowledge queries over the two stores.
type Service struct {
	embedder  Embedder
	vectors   VectorReader
	documents DocumentReader
	keys      *KeyRegistry
	limiter   *RateLimiter
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimiter replaces the default limiter.
func WithRateLimiter(l *RateLimiter) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// NewService wires the query service over its read surfaces.
func NewService(embedder Embedder, vectors VectorReader, documents DocumentReader, keys *KeyRegistry, opts ...ServiceOption) *Service {
	s := &Service{
		embedder:  embedder,
		vectors:   vectors,
		documents: documents,
		keys:      keys,
		limiter:   NewRateLimiter(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the service's HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /search_knowledge", s.guard("search_knowledge", TierPublic, s.handleSearch))
	mux.HandleFunc("GET /get_decisions", s.guard("get_decisions", TierPublic, s.listHandler(knowledge.TypeDecision)))
	mux.HandleFunc("GET /get_patterns", s.guard("get_patterns", TierPublic, s.listHandler(knowledge.TypePattern)))
	mux.HandleFunc("GET /get_warnings", s.guard("get_warnings", TierPublic, s.listHandler(knowledge.TypeWarning)))
	mux.HandleFunc("GET /get_methodologies", s.guard("get_methodologies", TierRegistered, s.listHandler(knowledge.TypeMethodology)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// guard enforces the per-request protocol shared by every data endpoint:
// resolve the credential, consume a rate-limit slot (429 outranks 401, so
// a rejected key still burns its bucket), then authentication, then tier.
func (s *Service) guard(endpoint string, required Tier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		key := r.Header.Get("X-API-Key")
		tier, authErr := s.keys.Resolve(key)

		decision := s.limiter.Allow(BucketKey(key, r), tier)
		setRateHeaders(rec, decision)

		switch {
		case !decision.Allowed:
			rateLimitedTotal.WithLabelValues(tier.String()).Inc()
			retry := int(decision.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			rec.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(rec, http.StatusTooManyRequests, CodeRateLimited,
				"hourly rate limit exceeded", map[string]any{
					"limit": decision.Limit,
					"reset": decision.Reset.Unix(),
				})

		case authErr != nil:
			writeError(rec, http.StatusUnauthorized, CodeUnauthorized, "invalid API key", nil)

		case !tier.AtLeast(required):
			writeError(rec, http.StatusForbidden, CodeForbidden,
				fmt.Sprintf("this endpoint requires the %s tier", required), map[string]any{
					"current_tier":  tier.String(),
					"required_tier": required.String(),
				})

		default:
			next(rec, r)
		}

		observeRequest(endpoint, rec.status, time.Since(started))
	}
}

func setRateHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}

// healthResponse is the /health body.
type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// handleHealth pings both stores. It carries rate headers like every
// response but never consumes quota, so monitors cannot be limited out.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	key := r.Header.Get("X-API-Key")
	tier, _ := s.keys.Resolve(key)
	setRateHeaders(w, s.limiter.Peek(BucketKey(key, r), tier))

	ctx := r.Context()
	resp := healthResponse{
		Status:   "healthy",
		Services: map[string]string{"mongodb": "ok", "qdrant": "ok"},
	}
	status := http.StatusOK

	if err := s.documents.Ping(ctx); err != nil {
		resp.Services["mongodb"] = err.Error()
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if err := s.vectors.HealthCheck(ctx); err != nil {
		resp.Services["qdrant"] = err.Error()
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
	observeRequest("health", status, time.Since(started))
}
