package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/service"
	"github.com/FooledKiwi/carepath/internal/storage"
)

// AuthHandler serves operator sign-in for the admin console.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates an AuthHandler with the given auth service.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// tokenRequest is the body of refresh and logout.
type tokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type operatorView struct {
	ID       int32  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	RefreshToken string        `json:"refresh_token"`
	Operator     *operatorView `json:"operator,omitempty"`
}

func newSession(pair *service.TokenPair, op *storage.Operator) sessionResponse {
	out := sessionResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Round(time.Second) / time.Second),
		RefreshToken: pair.RefreshToken,
	}
	if op != nil {
		out.Operator = &operatorView{ID: op.ID, Username: op.Username, FullName: op.FullName, Role: op.Role}
	}
	return out
}

// writeAuthError maps auth service errors onto responses shared by login and
// refresh. fallback is the 500 message.
func writeAuthError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenRevoked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "operator credentials rejected"})
	case errors.Is(err, service.ErrOperatorInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "operator account is disabled; ask an admin to re-enable it"})
	case errors.Is(err, service.ErrJWTSecretMissing):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "operator sign-in is not configured"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// Login handles POST /api/v1/auth/login
//
// Request body:
//
//	{"username": "triage-desk", "password": "..."}
//
// Response 200:
//
//	{"access_token":"...","token_type":"Bearer","expires_in":900,"refresh_token":"...",
//	 "operator":{"id":1,"username":"triage-desk","full_name":"District Triage Desk","role":"admin"}}
//
// Response 400: username or password missing.
// Response 401: unknown operator or wrong password.
// Response 403: operator account disabled.
// Response 503: JWT_SECRET not set.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator username and password are required"})
		return
	}

	pair, op, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeAuthError(c, err, "operator sign-in failed")
		return
	}
	c.JSON(http.StatusOK, newSession(pair, op))
}

// Refresh handles POST /api/v1/auth/refresh. The presented refresh token is
// revoked and a new session is returned without the operator block.
//
// Response 401: token unknown, expired or already rotated.
// Response 403: the operator was disabled since the token was issued.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(c, err, "operator session refresh failed")
		return
	}
	c.JSON(http.StatusOK, newSession(pair, nil))
}

// Logout handles POST /api/v1/auth/logout and answers 204. Unknown tokens are
// accepted so a console can always sign out.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operator sign-out failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
