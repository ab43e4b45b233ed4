package server

import (
	"net/http"

	checkoutdomain "github.com/clinicware/payrail/internal/checkout/domain"
	"github.com/gin-gonic/gin"
)

// checkout is the public payment entrypoint. The merchant comes from the
// request body because the buyer is not an authenticated merchant user.
func (s *Server) checkout(c *gin.Context) {
	var req checkoutdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.checkoutSvc.Checkout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
