package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danthegoodman1/icetier/db"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var logger = gologger.NewLogger()

type HTTPServer struct {
	Echo *echo.Echo
	DB   *db.Db
}

type CustomValidator struct {
	validator *validator.Validate
}

// NewHTTPServer registers every route without listening.
func NewHTTPServer(d *db.Db) *HTTPServer {
	s := &HTTPServer{
		Echo: echo.New(),
		DB:   d,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.JSONSerializer = &utils.NoEscapeJSONSerializer{}
	s.Echo.Validator = &CustomValidator{validator: validator.New()}
	s.Echo.Use(CreateReqContext, LoggerMiddleware, middleware.CORS())

	s.Echo.GET("/hc", s.HealthCheck)
	s.Echo.POST("/insert", ccHandler(s.InsertHandler))
	s.registerTableRoutes(s.Echo.Group("/tables"))
	s.registerChunkRoutes(s.Echo.Group("/chunks"))
	return s
}

func (s *HTTPServer) registerTableRoutes(g *echo.Group) {
	g.GET("", ccHandler(s.ListTables))
	g.GET("/:table/schema", ccHandler(s.GetTableSchema))
	g.GET("/:table/stats", ccHandler(s.GetTableStats))
	g.POST("/:table/scan", ccHandler(s.ScanTable))
}

// Chunk routes address chunks by body since partition keys contain `/`.
func (s *HTTPServer) registerChunkRoutes(g *echo.Group) {
	g.GET("", ccHandler(s.ListChunks))
	g.POST("/rollover", ccHandler(s.RolloverPartition))
	g.POST("/move", ccHandler(s.MoveChunk))
	g.POST("/persist", ccHandler(s.PersistChunk))
	g.POST("/unload", ccHandler(s.UnloadChunk))
	g.POST("/load", ccHandler(s.LoadChunk))
}

// StartHTTPServer listens on HTTP_PORT and serves h2c in the background.
// Serve failures after the listener is bound are fatal.
func StartHTTPServer(d *db.Db) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", utils.HTTP_PORT))
	if err != nil {
		return nil, fmt.Errorf("error in net.Listen: %w", err)
	}
	s := NewHTTPServer(d)
	s.Echo.Listener = listener
	go func() {
		logger.Info().Str("addr", listener.Addr().String()).Msg("starting h2c server")
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("h2c server failed")
		}
	}()
	return s, nil
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(s); err != nil {
		return err
	}
	return nil
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

// LoggerMiddleware logs every request once it finishes. Server errors log
// at error level, client errors at warn, the rest at debug.
func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		latency := time.Since(start)

		req := c.Request()
		res := c.Response()
		logger := zerolog.Ctx(req.Context())
		var ev *zerolog.Event
		switch {
		case res.Status >= http.StatusInternalServerError:
			ev = logger.Error()
		case res.Status >= http.StatusBadRequest:
			ev = logger.Warn()
		default:
			ev = logger.Debug()
		}

		path := req.URL.Path
		if path == "" {
			path = "/"
		}
		bytesIn := req.Header.Get(echo.HeaderContentLength)
		if bytesIn == "" {
			bytesIn = "0"
		}
		ev.Str("method", req.Method).
			Str("remote_ip", c.RealIP()).
			Str("handler_path", c.Path()).
			Str("path", path).
			Str("table", c.Param("table")).
			Int("status", res.Status).
			Dur("latency", latency).
			Str("protocol", req.Proto).
			Str("bytes_in", bytesIn).
			Int64("bytes_out", res.Size).
			Msg("req handled")
		return nil
	}
}
