package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"prediction-api/internal/logging"
)

// Server exposes the Handler over HTTP.
type Server struct {
	listenAddr string
	handler    *Handler
	logger     *zap.Logger
	app        *fiber.App
}

func NewServer(listenAddr string, h *Handler, logger *zap.Logger) (*Server, error) {
	if h == nil {
		return nil, errors.New("handler: handler must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		listenAddr: listenAddr,
		handler:    h,
		logger:     logger,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s.app.Use(s.logRequests)
	s.app.Use(recover.New())
	s.app.Post("/api/request", s.handlePredict)

	return s, nil
}

// Run listens on the configured address until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting prediction server", zap.String("listen", s.listenAddr))
	return s.app.Listen(s.listenAddr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handlePredict(c *fiber.Ctx) error {
	status, payload := s.handler.predict(c.UserContext(), c.Body())
	return c.Status(status).JSON(payload)
}

// logRequests attaches a request-scoped logger to the user context and logs
// the request on arrival and the buffered response once the chain returns.
func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()

	requestID := c.Get(headerRequestID)
	if requestID == "" {
		requestID = newRequestID()
	}
	c.Set(headerRequestID, requestID)

	logger := s.logger.With(zap.String("request_id", requestID))
	c.SetUserContext(logging.WithContext(c.UserContext(), logger))

	logger.Info("incoming request",
		zap.String("method", c.Method()),
		zap.String("url", c.BaseURL()+c.OriginalURL()),
		zap.ByteString("body", c.Body()),
	)

	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
		if !isClientError(err) {
			logger.Error("unhandled error", zap.Error(err))
		}
	}

	logger.Info("request completed",
		zap.Int("status", c.Response().StatusCode()),
		zap.ByteString("body", c.Response().Body()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(errorResponse{Detail: fe.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Detail: internalErrorDetail})
}

func isClientError(err error) bool {
	var fe *fiber.Error
	return errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError
}
