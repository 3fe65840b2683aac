package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"casefile/internal/config"
	"casefile/internal/detective"
	"casefile/internal/faults"
	"casefile/internal/metrics"
	"casefile/internal/resilience"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	// writeSlack is added to the completion ceiling so a slow but successful
	// call can still be written back.
	writeSlack = 15 * time.Second
)

type Server struct {
	cfg     config.Config
	service *detective.Service
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	ceiling time.Duration
	app     *echo.Echo
	address string
}

// Option customises a Server.
type Option func(*Server)

// WithBreaker exposes the breaker on /api/breaker and /health.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Server) { s.breaker = cb }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCeiling sizes the write timeout for calls that may take up to d.
func WithCeiling(d time.Duration) Option {
	return func(s *Server) { s.ceiling = d }
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, svc *detective.Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler
	e.Validator = newRequestValidator()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				slog.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType},
		}))
	}
	if cfg.Server.RateLimit > 0 {
		e.Use(rateLimiter(cfg.Server.RateLimit))
	}

	srv := &Server{
		cfg:     cfg,
		service: svc,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}
	for _, o := range opts {
		o(srv)
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: s.ceiling + writeSlack,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")
	api.GET("/breaker", s.handleBreaker)
	api.POST("/generate-case", s.handleGenerateCase)
	api.POST("/analyze-clue", s.handleAnalyzeClue)
	api.POST("/analyze-suspect", s.handleAnalyzeSuspect)
	api.POST("/interview-suspect", s.handleInterviewSuspect)
	api.POST("/solve-case", s.handleSolveCase)
	api.POST("/suggest-questions", s.handleSuggestQuestions)
}

func rateLimiter(perSecond float64) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/health" || p == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     int(math.Ceil(perSecond)),
			ExpiresIn: 3 * time.Minute,
		}),
		ErrorHandler: func(c echo.Context, err error) error {
			return requestError{
				Status:  http.StatusForbidden,
				Message: "could not identify client",
				Type:    "invalid_request_error",
			}
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return requestError{
				Status:     http.StatusTooManyRequests,
				Message:    "too many requests",
				Type:       "rate_limit_error",
				RetryAfter: time.Second,
			}
		},
	})
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}

	if err := c.Validate(target); err != nil {
		return err
	}
	return nil
}

type requestError struct {
	Status     int
	Message    string
	Type       string
	Code       string
	RetryAfter time.Duration
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		if reqErr.RetryAfter > 0 {
			secs := int(math.Ceil(reqErr.RetryAfter.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, http.StatusText(he.Code), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError maps a service failure onto the API error shape. Upstream
// details stay in the logs.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	switch faults.KindOf(err) {
	case faults.KindInvalidRequest:
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case faults.KindValidationError:
		return requestError{
			Status:  http.StatusUnprocessableEntity,
			Message: err.Error(),
			Type:    "validation_error",
		}
	case faults.KindCircuitOpen:
		var open *faults.CircuitOpenError
		errors.As(err, &open)
		return requestError{
			Status:     http.StatusServiceUnavailable,
			Message:    "the storyteller is resting, try again shortly",
			Type:       "circuit_open",
			RetryAfter: open.RetryAfter,
		}
	case faults.KindTransportTimeout:
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: "upstream provider timed out",
			Type:    "timeout_error",
		}
	case faults.KindProviderError:
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider error",
			Type:    "upstream_error",
		}
	case faults.KindParseError:
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream reply could not be read",
			Type:    "upstream_error",
			Code:    string(faults.KindParseError),
		}
	}

	if errors.Is(err, context.Canceled) {
		return requestError{
			Status:  499,
			Message: "request cancelled",
			Type:    "cancelled",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	title := color.New(color.FgHiYellow, color.Bold)
	dim := color.New(color.Faint)

	fmt.Println()
	title.Println("casefile ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	for _, ep := range []string{
		"GET  /health",
		"GET  /metrics",
		"GET  /api/breaker",
		"POST /api/generate-case",
		"POST /api/analyze-clue",
		"POST /api/analyze-suspect",
		"POST /api/interview-suspect",
		"POST /api/solve-case",
		"POST /api/suggest-questions",
	} {
		fmt.Println("  " + ep)
	}
	dim.Printf("Example:\n  curl http://%s:%d/api/generate-case -H 'Content-Type: application/json' -d '{\"difficulty\":\"easy\",\"theme\":\"space\"}'\n\n", host, port)
}
