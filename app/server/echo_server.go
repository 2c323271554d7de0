package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/config"
	"github.com/mahesh-hegde/lectio/app/userdata"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps domain errors to a status code and a message that is safe to
// show to the client.
func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	var uve *common.UserVisibleError
	var nf *common.NotFoundError
	var ve *common.ValidationError
	var ta *common.TransactionAborted

	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprintf("%v", he.Message)
		}
		return he.Code, msg
	case errors.As(err, &uve):
		return uve.HttpCode, uve.Message
	case errors.As(err, &nf):
		return http.StatusNotFound, nf.Error()
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, userdata.ErrUnknownBook),
		errors.Is(err, userdata.ErrReservedKey),
		errors.Is(err, userdata.ErrEmptyKeyName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, userdata.ErrNoteExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, common.ErrStorageTimeout), errors.Is(err, common.ErrBlocked):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &ta):
		return http.StatusInternalServerError, fmt.Sprintf("could not write %s", ta.Store)
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// NewEcho builds the API server with its middleware stack and routes, without
// starting it.
func NewEcho(controller *LectioController, conf *config.LectioConfig, serverConf config.ServerRuntimeConfig) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, msg := statusOf(err)
		if code >= http.StatusInternalServerError {
			c.Logger().Error(err)
		}

		if !c.Response().Committed {
			if c.Request().Method == http.MethodHead {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, errorResponse{Error: msg})
			}
			if err != nil {
				c.Logger().Error(err)
			}
		}
	}
	e.HideBanner = true
	if serverConf.CertDir != "" {
		e.Pre(middleware.HTTPSRedirect())
	}
	e.Pre(middleware.RemoveTrailingSlash())
	if serverConf.AcmeEnabled && len(conf.Hostnames) > 0 {
		canonical := conf.Hostnames[0]
		e.Pre(echo.MiddlewareFunc(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				req := c.Request()
				url := req.URL
				if req.Host != canonical {
					url.Host = canonical
					slog.Info("redirect to canonical hostname", "original_hostname", req.Host)
					return c.Redirect(http.StatusPermanentRedirect, url.String())
				}
				return next(c)
			}
		}))
	}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if serverConf.RateLimit > 0 {
		e.Use(rateLimiter(serverConf))
	}

	// event streams are long lived, so they skip gzip buffering and the
	// request timeout
	isStream := func(c echo.Context) bool {
		return c.Path() == seedEventsPath
	}

	if serverConf.GzipLevel != 0 {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Skipper:   isStream,
			Level:     serverConf.GzipLevel,
			MinLength: 512,
		}))
	}

	if conf.TimeoutSeconds != 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
			Skipper: isStream,
			Timeout: time.Duration(conf.TimeoutSeconds) * time.Second,
		}))
	}
	e.Use(requestLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)), conf.LogLatency))

	controller.Register(e.Group("/api"))
	return e
}

// rateLimiter limits each client to RateLimit requests per second with a
// burst of three seconds' worth.
func rateLimiter(serverConf config.ServerRuntimeConfig) echo.MiddlewareFunc {
	clientID := func(c echo.Context) (string, error) {
		host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
		return host, err
	}
	if serverConf.BehindLoadBalancer {
		clientID = func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		}
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(serverConf.RateLimit),
				Burst:     3 * serverConf.RateLimit,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: clientID,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "could not identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		},
	})
}

// requestLogger writes one JSON line per API call. Errors are handed to the
// HTTP error handler first so the logged status is the one sent.
func requestLogger(logger *slog.Logger, logLatency bool) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogURI:       true,
		LogStatus:    true,
		LogError:     true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogLatency:   logLatency,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("route", v.RoutePath),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("request_id", v.RequestID),
				slog.String("remote_ip", v.RemoteIP),
			}
			if logLatency {
				attrs = append(attrs, slog.Int64("latency_ms", v.Latency.Milliseconds()))
			}
			level, msg := slog.LevelInfo, "api request"
			if v.Error != nil {
				level, msg = slog.LevelError, "api request failed"
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			logger.LogAttrs(context.Background(), level, msg, attrs...)
			return nil
		},
	})
}

// StartServer serves the API until the listener fails. TLS is used when a
// cert dir is configured, with certificates from ACME or from the dir itself.
func StartServer(controller *LectioController, conf *config.LectioConfig, serverConf config.ServerRuntimeConfig) {
	e := NewEcho(controller, conf, serverConf)
	addr := fmt.Sprintf("%s:%d", serverConf.Addr, serverConf.Port)
	e.Logger.Fatal(listen(e, addr, conf.Hostnames, serverConf))
}

func listen(e *echo.Echo, addr string, hostnames []string, serverConf config.ServerRuntimeConfig) error {
	dir := serverConf.CertDir
	switch {
	case dir == "":
		return e.Start(addr)
	case serverConf.AcmeEnabled:
		slog.Info("serving TLS with ACME certificates", "addr", addr, "cache", dir, "hosts", hostnames)
		e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(hostnames...)
		e.AutoTLSManager.Cache = autocert.DirCache(dir)
		return e.StartAutoTLS(addr)
	default:
		slog.Info("serving TLS with certificates from dir", "addr", addr, "dir", dir)
		return e.StartTLS(addr, path.Join(dir, "fullchain.pem"), path.Join(dir, "privkey.pem"))
	}
}
