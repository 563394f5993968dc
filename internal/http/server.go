package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"pettycash/internal/core"
	"pettycash/internal/log"
	"pettycash/internal/middleware/ratelimit"
	"pettycash/internal/middleware/security"
	"pettycash/internal/middleware/trace"
	"pettycash/internal/services"
	appweb "pettycash/web"
)

// ReceiptProcessor is the receipt workflow behind the JSON endpoints.
type ReceiptProcessor interface {
	Scan(ctx context.Context, payload string) (core.ExtractionResult, error)
	Submit(ctx context.Context, sub core.Submission, image []byte) (services.SubmitResult, error)
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Config holds the server settings.
type Config struct {
	Addr               string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	Logger             *log.Logger
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]ReadinessCheck
}

const defaultMaxUploadBytes = 10 << 20

type Server struct {
	http.Server
	templates *template.Template
	receipts  ReceiptProcessor
	logger    *log.Logger
	checks    map[string]ReadinessCheck
	maxUpload int64

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics
}

type appMetrics struct {
	uptime             time.Time
	scans              int64
	submissions        int64
	submissionFailures int64
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run server.
func NewServer(cfg Config, receipts ReceiptProcessor) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	limitCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitPerMinute > 0 {
		limitCfg.RequestsPerMinute = cfg.RateLimitPerMinute
	}

	s := &Server{
		receipts:         receipts,
		logger:           logger,
		checks:           cfg.Checks,
		maxUpload:        cfg.MaxUploadBytes,
		rateLimiter:      ratelimit.NewLimiter(limitCfg),
		securityDetector: security.NewDetector(),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.securityDetector.ClientIP)

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err)
	}
	s.templates = t

	mux := http.NewServeMux()
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssets(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /ocr", s.handleOCR)
	mux.HandleFunc("POST /submit", s.handleSubmit)

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.securityDetector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldComponent, log.ComponentRateLimit,
			log.FieldClientIP, s.securityDetector.ClientIP(r),
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.Server.Shutdown(ctx)
}
