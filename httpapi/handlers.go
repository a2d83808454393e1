package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nextwhatsapp/adminauth"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	result, err := s.engine.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.renderError(c, err)
		return
	}

	if result.SecondFactorRequired {
		s.setPendingCookie(c, result.PendingToken)
		c.JSON(http.StatusOK, gin.H{"requiresTwoFactor": true})
		return
	}

	s.setSessionCookie(c, result.SessionToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "email": result.Email})
}

type verifyRequest struct {
	Code   string `json:"code" binding:"required"`
	Method string `json:"method"`
}

func (s *Server) handleVerifySecondFactor(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code required"})
		return
	}

	pending, err := c.Cookie(s.engine.Config().Session.PendingCookieName)
	if err != nil || pending == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	method := adminauth.MethodTOTP
	if req.Method == string(adminauth.MethodBackupCode) {
		method = adminauth.MethodBackupCode
	}

	result, err := s.engine.ConfirmSecondFactor(c.Request.Context(), pending, req.Code, method)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.clearPendingCookie(c)
	s.setSessionCookie(c, result.SessionToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "email": result.Email})
}

func (s *Server) handleSession(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sessions, err := s.engine.ActiveSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	active := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		active = append(active, gin.H{
			"id":        sess.ID,
			"ip":        sess.IP,
			"userAgent": sess.UserAgent,
			"createdAt": sess.CreatedAt.UTC(),
			"expiresAt": sess.ExpiresAt.UTC(),
			"current":   sess.ID == claims.SessionID,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":   claims.UserID,
		"email":    claims.Email,
		"role":     claims.Role,
		"sessions": active,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	token, err := c.Cookie(s.engine.Config().Session.CookieName)
	if err == nil && token != "" {
		if err := s.engine.Logout(c.Request.Context(), token); err != nil {
			s.renderError(c, err)
			return
		}
	}

	s.clearSessionCookie(c)
	s.clearPendingCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleLogoutAll(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	removed, err := s.engine.LogoutAll(c.Request.Context(), claims.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "revoked": removed})
}

type stepUpRequestBody struct {
	Purpose string `json:"purpose" binding:"required"`
}

func (s *Server) handleStepUpRequest(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req stepUpRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "purpose required"})
		return
	}

	challenge, err := s.engine.RequestStepUp(c.Request.Context(), claims.UserID, adminauth.StepUpPurpose(req.Purpose))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"handle":      challenge.Handle,
		"maskedPhone": challenge.MaskedPhone,
		"expiresAt":   challenge.ExpiresAt.UTC(),
	})
}

type stepUpConfirmBody struct {
	Purpose string `json:"purpose" binding:"required"`
	Handle  string `json:"handle" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

func (s *Server) handleStepUpConfirm(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req stepUpConfirmBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "purpose, handle and code required"})
		return
	}

	err := s.engine.ConfirmStepUp(c.Request.Context(), claims.UserID, adminauth.StepUpPurpose(req.Purpose), req.Handle, req.Code)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}
