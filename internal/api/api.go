package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/auth"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/hub"
	"agent-toolbridge/internal/metrics"
)

// Header names read from every request.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// Server holds the API server components.
type Server struct {
	app     *fiber.App
	hub     *hub.Hub
	config  *config.Config
	metrics *metrics.Metrics
}

// New creates a new API server.
func New(cfg *config.Config, h *hub.Hub, m *metrics.Metrics) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "Agent Toolbridge",
		ErrorHandler: errorHandler,
	})

	// Session ID middleware: extract from X-Session-ID header or generate a new one
	app.Use(func(c *fiber.Ctx) error {
		sid := c.Get(HeaderSessionID)
		if sid == "" {
			sid = auth.GenerateSessionID()
		}
		c.Locals("session_id", sid)
		return c.Next()
	})

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${method} | ${path} | sid=${locals:session_id} | user=${reqHeader:X-User-ID}\n",
	}))

	server := &Server{
		app:     app,
		hub:     h,
		config:  cfg,
		metrics: m,
	}

	server.setupRoutes()

	return server
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening on the configured host and port.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// requireUser rejects requests without a caller identity.
func requireUser(c *fiber.Ctx) error {
	if strings.TrimSpace(c.Get(HeaderUserID)) == "" {
		return apperr.New(apperr.KindUnauthorized, "authenticate", "missing "+HeaderUserID+" header")
	}
	return c.Next()
}

// requestContext carries the caller identity and forwarded credentials.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	ctx = auth.WithUserID(ctx, c.Get(HeaderUserID))
	if sid, ok := c.Locals("session_id").(string); ok {
		ctx = auth.WithSessionID(ctx, sid)
	}
	if token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok && token != "" {
		ctx = auth.WithBearerToken(ctx, token)
	}
	return ctx
}

func userID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderUserID))
}

// errorHandler renders every returned error as {code, message, cause}.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		kind := apperr.KindInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			kind = apperr.KindNotFound
		case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed:
			kind = apperr.KindBadRequest
		}
		return c.Status(fe.Code).JSON(fiber.Map{
			"code":    apperr.Code(kind, "api"),
			"message": fe.Message,
		})
	}

	kind := apperr.KindOf(err)
	body := fiber.Map{
		"code":    apperr.Code(kind, "api"),
		"message": err.Error(),
	}
	if cause := rootCause(err); cause != nil && cause != err {
		body["cause"] = cause.Error()
	}
	return c.Status(apperr.HTTPStatus(kind)).JSON(body)
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
