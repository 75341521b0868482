package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/zhejian/linkboard/internal/model"
	"github.com/zhejian/linkboard/internal/service"
	"golang.org/x/sync/errgroup"
)

// Handler holds HTTP handlers and dependencies.
// It follows the dependency injection pattern, receiving
// interfaces rather than concrete implementations for testability.
type Handler struct {
	linkService service.LinkServiceInterface // link management and redirect logic
	db          DBInterface                  // Database connection for health checks
	cache       CacheInterface               // Optional cache connection for health checks
	logger      *slog.Logger                 // Structured logger for error logging
	version     string
	startedAt   time.Time
}

// DBInterface defines the database operations needed by the handler.
// This interface allows for easy mocking in unit tests without
// requiring a real database connection.
type DBInterface interface {
	Ping(ctx context.Context) error            // Check database connectivity
	Now(ctx context.Context) (time.Time, error) // Read the database clock
}

// CacheInterface defines the cache operations needed by the handler.
// A nil CacheInterface means no cache is configured.
type CacheInterface interface {
	Ping(ctx context.Context) error
	Bypassed() bool // lookups currently skip the cache (breaker open)
}

const (
	healthCheckTimeout = 2 * time.Second
	dbCheckTimeout     = 5 * time.Second
)

// NewHandler creates a new handler instance with the provided dependencies.
// cache may be nil when the service runs without Redis.
func NewHandler(linkService service.LinkServiceInterface, db DBInterface, cache CacheInterface, logger *slog.Logger, version string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		linkService: linkService,
		db:          db,
		cache:       cache,
		logger:      logger,
		version:     version,
		startedAt:   time.Now(),
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller is responsible for creating the engine and adding middleware
// before calling this method, so middleware runs in the correct order.
// Routes are organized into:
//   - Health endpoints for monitoring and the dashboard
//   - Management endpoints under /api/links
//   - Public redirect endpoint for short link resolution
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.healthCheck)

	api := r.Group("/api")
	{
		api.GET("/healthz", h.healthz)
		api.GET("/test-db", h.testDB)

		api.POST("/links", h.createLink)
		api.GET("/links", h.listLinks)
		api.GET("/links/:code", h.getLink)
		api.DELETE("/links/:code", h.deleteLink)
	}

	// Redirect route (public) - must be last to avoid conflicts
	r.GET("/:code", h.redirect)
}

// healthCheck handles GET /health
// Probes every dependency concurrently.
// Response codes:
//   - 200 OK: All dependencies are healthy
//   - 503 Service Unavailable: One or more dependencies are down,
//     or the cache is being bypassed by its circuit breaker
func (h *Handler) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	var dbErr, cacheErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dbErr = h.db.Ping(gctx)
		return nil
	})
	if h.cache != nil {
		g.Go(func() error {
			cacheErr = h.cache.Ping(gctx)
			return nil
		})
	}
	_ = g.Wait()

	status := "ok"
	code := http.StatusOK
	deps := gin.H{"database": "up", "cache": "disabled"}

	if h.cache != nil {
		deps["cache"] = "up"
		switch {
		case cacheErr != nil:
			status = "degraded"
			code = http.StatusServiceUnavailable
			deps["cache"] = "down"
		case h.cache.Bypassed():
			status = "degraded"
			code = http.StatusServiceUnavailable
			deps["cache"] = "bypassed"
		}
	}
	if dbErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["database"] = "down"
	}

	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

// healthz handles GET /api/healthz
// Liveness only; never touches a dependency.
func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthzResponse{
		OK:        true,
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startedAt).Seconds(),
	})
}

// testDB handles GET /api/test-db
// Response codes:
//   - 200 OK: the database answered with its clock
//   - 500 Internal Server Error: the database is unreachable
func (h *Handler) testDB(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbCheckTimeout)
	defer cancel()

	now, err := h.db.Now(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "database connectivity check failed",
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.DBTimeResponse{Success: true, CurrentTime: now})
}

// createLink handles POST /api/links
// Request body: CreateLinkRequest (JSON)
// Response codes:
//   - 201 Created: link created
//   - 400 Bad Request: invalid body, URL or custom code
//   - 409 Conflict: custom code already exists
//   - 500 Internal Server Error: unexpected error
func (h *Handler) createLink(c *gin.Context) {
	ctx := c.Request.Context()
	var req model.CreateLinkRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		// Well-formed JSON without a url field is a bad URL, not a bad body
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.errorResponse(c, http.StatusBadRequest, "Invalid URL provided")
			return
		}
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, err := h.linkService.CreateLink(ctx, &req)
	if err != nil {
		h.handleError(c, err, "create link")
		return
	}

	c.JSON(http.StatusCreated, model.LinkEnvelope{Success: true, Link: link})
}

// listLinks handles GET /api/links
// Response codes:
//   - 200 OK: every link, newest first
//   - 500 Internal Server Error: unexpected error
func (h *Handler) listLinks(c *gin.Context) {
	links, err := h.linkService.ListLinks(c.Request.Context())
	if err != nil {
		h.handleError(c, err, "list links")
		return
	}

	c.JSON(http.StatusOK, model.LinkListResponse{Success: true, Links: links})
}

// getLink handles GET /api/links/:code
// Reads statistics without counting a click.
// Response codes:
//   - 200 OK: link found
//   - 404 Not Found: code does not exist
//   - 500 Internal Server Error: unexpected error
func (h *Handler) getLink(c *gin.Context) {
	code := c.Param("code")

	link, err := h.linkService.GetLink(c.Request.Context(), code)
	if err != nil {
		h.handleError(c, err, "get link", slog.String("code", code))
		return
	}

	c.JSON(http.StatusOK, model.LinkEnvelope{Success: true, Link: link})
}

// deleteLink handles DELETE /api/links/:code
// Response codes:
//   - 200 OK: link deleted
//   - 404 Not Found: code does not exist
//   - 500 Internal Server Error: unexpected error
func (h *Handler) deleteLink(c *gin.Context) {
	code := c.Param("code")

	if err := h.linkService.DeleteLink(c.Request.Context(), code); err != nil {
		h.handleError(c, err, "delete link", slog.String("code", code))
		return
	}

	c.JSON(http.StatusOK, model.MessageResponse{Success: true, Message: "Link deleted successfully"})
}

// redirect handles GET /:code
// Redirects to the original URL and counts the click.
// Response codes:
//   - 302 Found: redirect to the original URL
//   - 404 Not Found: for any failure, so visitors cannot tell a
//     missing link from a broken backend
func (h *Handler) redirect(c *gin.Context) {
	url, err := h.linkService.Redirect(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, model.RedirectErrorResponse{Error: "Link not found"})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// statusFor maps the service error taxonomy onto HTTP status codes and
// client-facing messages. It is the only place that does so.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		return http.StatusBadRequest, "Invalid URL provided"
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusBadRequest, "Custom code must be 6-8 alphanumeric characters"
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Custom code already exists"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Link not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// handleError writes the mapped error response and logs internal failures.
func (h *Handler) handleError(c *gin.Context, err error, op string, attrs ...any) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		args := append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)
		h.logger.ErrorContext(c.Request.Context(), "unexpected error", args...)
	}
	h.errorResponse(c, status, message)
}

// errorResponse sends a standardized JSON error response.
func (h *Handler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{
		Success: false,
		Error:   message,
	})
}
