package server

import (
	"net/http"
	"strings"

	"github.com/clinicware/payrail/internal/merchantctx"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) createConsent(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req openfinancedomain.CreateConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.MerchantID = merchantID.Int64()

	resp, err := s.consentSvc.CreateConsent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ownedConsentLinkID verifies the consent belongs to the requesting merchant
// before any state change.
func (s *Server) ownedConsentLinkID(c *gin.Context) (string, bool) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return "", false
	}

	linkID := strings.TrimSpace(c.Param("linkID"))
	if linkID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return "", false
	}

	consent, err := s.consentSvc.FindByLinkID(c.Request.Context(), linkID)
	if err != nil {
		AbortWithError(c, err)
		return "", false
	}
	if consent == nil || consent.MerchantID != merchantID.Int64() {
		AbortWithError(c, openfinancedomain.ErrConsentNotFound)
		return "", false
	}
	return linkID, true
}

func (s *Server) authorizeConsent(c *gin.Context) {
	linkID, ok := s.ownedConsentLinkID(c)
	if !ok {
		return
	}

	if err := s.consentSvc.Authorize(c.Request.Context(), linkID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) revokeConsent(c *gin.Context) {
	linkID, ok := s.ownedConsentLinkID(c)
	if !ok {
		return
	}

	if err := s.consentSvc.Revoke(c.Request.Context(), linkID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
