package bootstrap

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	httpecho "github.com/mohammadpnp/contact-import/internal/interfaces/http/echo"
)

// NewHTTPServer mounts the import session API on a fresh echo instance.
func NewHTTPServer(c *Container, bodyLimit string, logger *slog.Logger) (*echo.Echo, error) {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	if bodyLimit == "" {
		bodyLimit = "20M"
	}
	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit(bodyLimit))
	server.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			logger.LogAttrs(context.Background(), level, "http request", attrs...)
			return nil
		},
	}))

	sessions, err := httpecho.NewSessionHandler(httpecho.SessionHandlerDeps{
		Create:  c.Create,
		Enrich:  c.Enrich,
		Sync:    c.Sync,
		Queries: c.Queries,
		Delete:  c.Delete,
		Purge:   c.Reaper,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	httpecho.RegisterRoutes(server, sessions, httpecho.NewProgressSocket(c.Sync, logger))

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return server, nil
}
