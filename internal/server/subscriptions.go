package server

import (
	"net/http"

	"github.com/clinicware/payrail/internal/merchantctx"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

// ownedSubscription loads a subscription and verifies it belongs to the
// requesting merchant. Other merchants' subscriptions look like they do not
// exist.
func (s *Server) ownedSubscription(c *gin.Context) (*subscriptiondomain.CustomerSubscription, bool) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}

	subscriptionID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return nil, false
	}

	sub, err := s.subscriptionSvc.FindByID(c.Request.Context(), subscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if sub == nil || sub.MerchantID != merchantID.Int64() {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return nil, false
	}
	return sub, true
}

func (s *Server) getSubscription(c *gin.Context) {
	sub, ok := s.ownedSubscription(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) cancelSubscription(c *gin.Context) {
	sub, ok := s.ownedSubscription(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.Cancel(c.Request.Context(), sub.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) clearSubscriptionAttention(c *gin.Context) {
	sub, ok := s.ownedSubscription(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.ClearAttention(c.Request.Context(), sub.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listCustomerSubscriptions(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	customerID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// The lookup doubles as an ownership check.
	if _, err := s.customerSvc.Get(c.Request.Context(), merchantID.Int64(), customerID); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptionSvc.ListByCustomer(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
