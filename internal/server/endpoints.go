package server

import (
	"net/http"
	"strings"

	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/gin-gonic/gin"
)

func (s *Server) listWebhookEndpoints(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.eventSvc.ListEndpoints(c.Request.Context(), merchantID.Int64())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) addWebhookEndpoint(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.eventSvc.AddEndpoint(c.Request.Context(), merchantID.Int64(), strings.TrimSpace(req.URL))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) setWebhookEndpointActive(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	endpointID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.eventSvc.SetEndpointActive(c.Request.Context(), merchantID.Int64(), endpointID, *req.IsActive); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
