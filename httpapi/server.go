// Package httpapi exposes the engine over HTTP for the admin console.
// Session and pending-login credentials travel in HttpOnly cookies;
// request bodies and responses are JSON.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nextwhatsapp/adminauth"
	"github.com/nextwhatsapp/adminauth/session"
)

const claimsContextKey = "adminauth.claims"

// Server wires the engine's operations to gin routes.
type Server struct {
	engine *adminauth.Engine
	// secureCookies toggles the Secure flag; off for plain-HTTP dev.
	secureCookies bool
}

type Config struct {
	SecureCookies bool
}

func NewServer(engine *adminauth.Engine, cfg Config) *Server {
	return &Server{engine: engine, secureCookies: cfg.SecureCookies}
}

// Router builds the route tree. Every route passes through the request
// context middleware and the generic API rate guard.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestContext(), s.rateGuard())

	admin := router.Group("/admin")
	{
		admin.POST("/login", s.handleLogin)
		admin.POST("/verify-2fa", s.handleVerifySecondFactor)
		admin.POST("/logout", s.handleLogout)

		authed := admin.Group("", s.requireSession())
		{
			authed.GET("/session", s.handleSession)
			authed.POST("/logout-all", s.handleLogoutAll)
			authed.POST("/step-up/request", s.handleStepUpRequest)
			authed.POST("/step-up/confirm", s.handleStepUpConfirm)
		}
	}

	return router
}

// requestContext copies the transport-level facts the engine audits on
// into the request context.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := adminauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = adminauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) rateGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.engine.CheckRate(c.Request.Context(), c.ClientIP()); err != nil {
			s.renderError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireSession verifies the session cookie and stashes the claims.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(s.engine.Config().Session.CookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := s.engine.VerifySession(c.Request.Context(), token)
		if err != nil {
			s.clearSessionCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// renderError maps the engine's error taxonomy to status codes with
// user-safe messages. Internal detail stays in the audit trail.
func (s *Server) renderError(c *gin.Context, err error) {
	var lockErr *adminauth.LockoutError
	if errors.As(err, &lockErr) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":       "account locked",
			"lockedUntil": lockErr.Until.UTC(),
		})
		return
	}

	var rateErr *adminauth.RateLimitError
	if errors.As(err, &rateErr) {
		resp := gin.H{"error": "too many requests"}
		if !rateErr.ResetAt.IsZero() {
			resp["retryAt"] = rateErr.ResetAt.UTC()
		}
		c.JSON(http.StatusTooManyRequests, resp)
		return
	}

	switch {
	case errors.Is(err, adminauth.ErrInvalidCredentials),
		errors.Is(err, adminauth.ErrAccountDisabled):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, adminauth.ErrSessionInvalid),
		errors.Is(err, adminauth.ErrPendingInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, adminauth.ErrCodeInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
	case errors.Is(err, adminauth.ErrCodeExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "code expired, request a new one"})
	case errors.Is(err, adminauth.ErrCodeAttemptsExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many wrong codes, request a new one"})
	case errors.Is(err, adminauth.ErrPurposeUnknown),
		errors.Is(err, adminauth.ErrPhoneMissing),
		errors.Is(err, adminauth.ErrSecondFactorNotConfigured),
		errors.Is(err, adminauth.ErrSetupNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	cfg := s.engine.Config().Session
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.CookieName, token, int(cfg.TTL.Seconds()), "/", "", s.secureCookies, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	cfg := s.engine.Config().Session
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.CookieName, "", -1, "/", "", s.secureCookies, true)
}

func (s *Server) setPendingCookie(c *gin.Context, token string) {
	cfg := s.engine.Config()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.Session.PendingCookieName, token, int(cfg.Credentials.PendingTTL.Seconds()), "/", "", s.secureCookies, true)
}

func (s *Server) clearPendingCookie(c *gin.Context) {
	cfg := s.engine.Config().Session
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.PendingCookieName, "", -1, "/", "", s.secureCookies, true)
}

func claimsFrom(c *gin.Context) (*session.Claims, bool) {
	v, exists := c.Get(claimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*session.Claims)
	return claims, ok
}
