package server

import (
	"net/http"
	"strings"

	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/clinicware/payrail/internal/provider"
	routingdomain "github.com/clinicware/payrail/internal/routing/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) listRoutingRules(c *gin.Context) {
	resp, err := s.routingSvc.ListRules(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) createRoutingRule(c *gin.Context) {
	var req routingdomain.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.routingSvc.CreateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) updateRoutingRule(c *gin.Context) {
	ruleID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req routingdomain.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.routingSvc.UpdateRule(c.Request.Context(), ruleID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) deleteRoutingRule(c *gin.Context) {
	ruleID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.routingSvc.DeleteRule(c.Request.Context(), ruleID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// previewRouting runs provider selection for a hypothetical checkout without
// charging anything. Useful for verifying a rule change before traffic hits
// it.
func (s *Server) previewRouting(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	offerID, ok := parseOptionalID(c.Query("offer_id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	productID, ok := parseOptionalID(c.Query("product_id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var method provider.Method
	if raw := strings.TrimSpace(c.Query("method")); raw != "" {
		parsed, ok := provider.ParseMethod(raw)
		if !ok {
			AbortWithError(c, routingdomain.ErrInvalidMethod)
			return
		}
		method = parsed
	}

	decision := s.routingSvc.SelectProvider(c.Request.Context(), routingdomain.SelectionRequest{
		MerchantID: merchantID.Int64(),
		OfferID:    offerID,
		ProductID:  productID,
		Country:    strings.TrimSpace(c.Query("country")),
		Method:     method,
	})
	c.JSON(http.StatusOK, gin.H{"data": decision})
}
