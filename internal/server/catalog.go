package server

import (
	"net/http"

	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) createProduct(c *gin.Context) {
	var req catalogdomain.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.catalogSvc.CreateProduct(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) listProducts(c *gin.Context) {
	resp, err := s.catalogSvc.ListProducts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) createOffer(c *gin.Context) {
	var req catalogdomain.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.catalogSvc.CreateOffer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) listOffers(c *gin.Context) {
	productID, ok := parseOptionalID(c.Query("product_id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.catalogSvc.ListOffers(c.Request.Context(), productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) getOffer(c *gin.Context) {
	offerID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.catalogSvc.GetOffer(c.Request.Context(), offerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) updateOffer(c *gin.Context) {
	offerID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req catalogdomain.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.catalogSvc.UpdateOffer(c.Request.Context(), offerID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) setOfferActive(c *gin.Context) {
	offerID, ok := parseID(c.Param("id"))
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

	if err := s.catalogSvc.SetOfferActive(c.Request.Context(), offerID, *req.IsActive); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) mergeOfferProviderConfig(c *gin.Context) {
	offerID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.catalogSvc.MergeProviderConfig(c.Request.Context(), offerID, patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
