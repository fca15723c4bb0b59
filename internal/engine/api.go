package engine

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/gate"
	"gatekeeper/internal/models"
	"gatekeeper/internal/origin"
	"gatekeeper/pkg/utils"
)

const (
	realm       = `Basic realm="Restricted Area"`
	claimsKey   = "session_claims"
	tokenHeader = "X-Session-Token"
)

// Gatekeeper is the subset of *gate.Gate the HTTP layer needs.
type Gatekeeper interface {
	Check(clientID, authorization string) gate.Decision
	BanRemaining(clientID string) time.Duration
	Lift(clientID string) bool
	Bans() []models.BanView
	Attempts() []models.AttemptView
	MaxFailedAttempts() int
	BanDuration() time.Duration
}

// Config wires the API. Issuer may be nil, which disables session tokens
// and the admin routes.
type Config struct {
	Gate       Gatekeeper
	Origins    *origin.Validator
	Issuer     *auth.Issuer
	TrustProxy bool
	Logger     *zap.Logger
}

type API struct {
	e       *echo.Echo
	gate    Gatekeeper
	origins *origin.Validator
	issuer  *auth.Issuer
	proxy   bool
	logger  *zap.Logger
}

func NewAPI(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &API{
		e:       echo.New(),
		gate:    cfg.Gate,
		origins: cfg.Origins,
		issuer:  cfg.Issuer,
		proxy:   cfg.TrustProxy,
		logger:  logger,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	e := a.e
	e.HideBanner = true
	e.HidePort = true

	// The client address is the ban key, so only trust forwarding headers
	// when explicitly told we sit behind a proxy.
	if a.proxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			a.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("client", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  a.origins.Origins(),
		AllowMethods:  []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders: []string{tokenHeader, echo.HeaderWWWAuthenticate, echo.HeaderRetryAfter},
	}))

	e.GET("/health", a.health)
	e.GET("/verify", a.verify)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// ─── Admin ───────────────────────────────────────────
	if a.issuer != nil {
		admin := e.Group("/api", a.requireSession)
		admin.GET("/bans", a.listBans)
		admin.DELETE("/bans/:client", a.liftBan)
		admin.GET("/attempts", a.listAttempts)
		admin.GET("/config", a.getConfig)
	}
}

// Handler exposes the router, mainly for tests.
func (a *API) Handler() http.Handler {
	return a.e
}

func (a *API) Start(addr string) error {
	a.logger.Info("http server starting", zap.String("addr", addr))
	return a.e.Start(addr)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.e.Shutdown(ctx)
}

// StatusFor maps a gate decision to an HTTP status code.
func StatusFor(d gate.Decision) int {
	switch d {
	case gate.Allowed:
		return http.StatusOK
	case gate.MissingCredentials, gate.Unauthorized:
		return http.StatusUnauthorized
	case gate.Banned:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ─── Public ──────────────────────────────────────────────────────────────────
func (a *API) health(c echo.Context) error {
	return c.String(http.StatusOK, "Gateway is up and running")
}

func (a *API) verify(c echo.Context) error {
	req := c.Request()
	clientID := c.RealIP()

	if o := req.Header.Get(echo.HeaderOrigin); !a.origins.Allowed(o) {
		utils.OriginRejectionsTotal.Inc()
		a.logger.Info("origin rejected", zap.String("origin", o), zap.String("client", clientID))
		return c.String(http.StatusForbidden, "Origin not allowed")
	}

	decision := a.gate.Check(clientID, req.Header.Get(echo.HeaderAuthorization))
	status := StatusFor(decision)

	switch decision {
	case gate.Allowed:
		if a.issuer != nil {
			username, _, _ := gate.ParseBasic(req.Header.Get(echo.HeaderAuthorization))
			token, err := a.issuer.GenerateToken(username, clientID)
			if err != nil {
				a.logger.Error("failed to issue session token", zap.Error(err))
			} else {
				c.Response().Header().Set(tokenHeader, token)
			}
		}
		return c.String(status, "Authenticated")
	case gate.MissingCredentials:
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, realm)
		return c.String(status, "Authorization required")
	case gate.Banned:
		if remaining := a.gate.BanRemaining(clientID); remaining > 0 {
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.FormatInt(ceilSeconds(remaining), 10))
		}
		return c.String(status, "Too many failed attempts")
	default:
		return c.String(status, "Invalid credentials")
	}
}

func ceilSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second > 0 {
		s++
	}
	return s
}

// ─── Admin ───────────────────────────────────────────────────────────────────
func (a *API) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
		}
		claims, err := a.issuer.ValidateToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func (a *API) listBans(c echo.Context) error {
	return c.JSON(http.StatusOK, a.gate.Bans())
}

func (a *API) liftBan(c echo.Context) error {
	clientID, err := url.PathUnescape(c.Param("client"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid client"})
	}
	if !a.gate.Lift(clientID) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "client is not banned"})
	}

	if claims, ok := c.Get(claimsKey).(*auth.Claims); ok {
		a.logger.Info("ban lifted by operator",
			zap.String("client", clientID),
			zap.String("operator", claims.Username),
		)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) listAttempts(c echo.Context) error {
	return c.JSON(http.StatusOK, a.gate.Attempts())
}

func (a *API) getConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"max_failed_attempts": a.gate.MaxFailedAttempts(),
		"ban_duration":        a.gate.BanDuration().String(),
		"allowed_origins":     a.origins.Origins(),
		"trust_proxy":         a.proxy,
		"session_tokens":      a.issuer != nil,
	})
}
