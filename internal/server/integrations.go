package server

import (
	"net/http"

	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/gin-gonic/gin"
)

func (s *Server) listIntegrations(c *gin.Context) {
	resp, err := s.integrationSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) connectIntegration(c *gin.Context) {
	var req integrationdomain.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.integrationSvc.Connect(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) rotateIntegration(c *gin.Context) {
	prov, ok := provider.Parse(c.Param("provider"))
	if !ok {
		AbortWithError(c, integrationdomain.ErrInvalidProvider)
		return
	}

	var req struct {
		Credentials map[string]any `json:"credentials"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.integrationSvc.Rotate(c.Request.Context(), prov, req.Credentials)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) setIntegrationActive(c *gin.Context) {
	prov, ok := provider.Parse(c.Param("provider"))
	if !ok {
		AbortWithError(c, integrationdomain.ErrInvalidProvider)
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.integrationSvc.SetActive(c.Request.Context(), prov, *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
