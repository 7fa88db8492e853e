package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/pingone"
	"github.com/pingone-bulk-console/internal/service"
)

// TokenHandler validates worker credentials
type TokenHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(services *service.Services, log zerolog.Logger) *TokenHandler {
	return &TokenHandler{
		services: services,
		log:      log.With().Str("handler", "token").Logger(),
	}
}

type tokenRequest struct {
	EnvironmentID string `json:"environmentId"`
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
}

// TestToken handles POST /v1/token: exchanges credentials for a worker
// token to validate them, without populating the cache
func (h *TokenHandler) TestToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.EnvironmentID == "" || req.ClientID == "" || req.ClientSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "environmentId, clientId and clientSecret are required"})
		return
	}

	err := h.services.Operations.TestCredentials(c.Request.Context(), req.EnvironmentID, req.ClientID, req.ClientSecret)
	if err != nil {
		var authErr *pingone.AuthError
		if errors.As(err, &authErr) && !authErr.Transient() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials or environment", "detail": authErr.Message})
			return
		}
		h.log.Error().Err(err).Str("environment_id", req.EnvironmentID).Msg("Token test failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "token endpoint unreachable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "credentials are valid"})
}
