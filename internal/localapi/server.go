// Package localapi serves a read model of the upload registry on a local
// address so other tools can show upload progress.
package localapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/push"
)

// Uploads is the registry surface the API reads and dismisses through.
type Uploads interface {
	Owner() int64
	List() []models.UploadRecord
	Get(clothID int64) (models.UploadRecord, bool)
	Remove(clothID int64, dismiss bool) bool
}

// Connection reports the push channel state.
type Connection interface {
	State() push.State
}

// Options configures a Server.
type Options struct {
	Uploads    Uploads
	Connection Connection
	Bus        *events.EventBus
	Logger     *logging.Logger
	Now        func() time.Time
}

// Server is the local read-model API.
type Server struct {
	echo    *echo.Echo
	handler *Handler
	logger  *logging.Logger
}

// New creates a server with its routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("localapi")

	h := &Handler{
		uploads: opts.Uploads,
		conn:    opts.Connection,
		bus:     opts.Bus,
		logger:  logger,
		now:     opts.Now,
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			// Loopback only; browsers on other local ports are expected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.startedAt = h.now()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
	}))

	e.GET("/health", h.HandleHealth)
	api := e.Group("/api")
	api.GET("/status", h.HandleStatus)
	api.GET("/uploads", h.HandleListUploads)
	api.GET("/uploads/:clothId", h.HandleGetUpload)
	api.DELETE("/uploads/:clothId", h.HandleDismissUpload)
	api.GET("/events", h.HandleEvents)

	return &Server{echo: e, handler: h, logger: logger}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve accepts connections on ln until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("local API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.handler.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.LocalAPIShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
