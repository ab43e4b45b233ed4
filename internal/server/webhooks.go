package server

import (
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/gin-gonic/gin"
)

// ingestWebhook receives provider callbacks. Providers retry on non-2xx, so
// everything that is not a signature failure or a malformed request answers
// 200, including events this system ignores.
func (s *Server) ingestWebhook(c *gin.Context) {
	prov, ok := provider.Parse(c.Param("provider"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	merchantID, err := snowflake.ParseString(c.Param("merchantID"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), merchantID.Int64(), prov, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
