package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	headerMerchantID = "X-Merchant-ID"
	headerJobAPIKey  = "X-Api-Key"
)

// MerchantContext resolves the acting merchant from the gateway-injected
// header and stores it on the request context. Requests without a merchant
// are rejected before any handler runs.
func (s *Server) MerchantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerMerchantID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		merchantID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := merchantctx.WithMerchantID(c.Request.Context(), merchantID.Int64())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// JobAuth guards the job trigger endpoints with a single shared API key,
// stored as a bcrypt hash. No hash configured means no HTTP job triggers.
func (s *Server) JobAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.JobAPIKeyHash == "" {
			AbortWithError(c, ErrForbidden)
			return
		}

		key := strings.TrimSpace(c.GetHeader(headerJobAPIKey))
		if key == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.JobAPIKeyHash), []byte(key)); err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
