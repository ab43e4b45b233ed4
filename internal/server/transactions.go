package server

import (
	"net/http"

	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/clinicware/payrail/internal/provider"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) listTransactions(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit := 0
	if raw, ok := parseOptionalID(c.Query("limit")); ok && raw != nil {
		limit = int(*raw)
	}

	resp, err := s.transactionSvc.ListByMerchant(c.Request.Context(), merchantID.Int64(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// refundTransaction refunds a settled charge at the provider and records the
// outcome on the ledger. Omitting amount_cents refunds whatever has not been
// refunded yet.
func (s *Server) refundTransaction(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	transactionID, ok := parseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tx, err := s.transactionSvc.FindByID(c.Request.Context(), transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tx == nil || tx.MerchantID != merchantID.Int64() {
		AbortWithError(c, transactiondomain.ErrTransactionMissing)
		return
	}
	if tx.ProviderOrderID == nil || *tx.ProviderOrderID == "" {
		AbortWithError(c, transactiondomain.ErrTransactionMissing)
		return
	}

	amount := req.AmountCents
	if amount <= 0 {
		amount = tx.AmountCents - tx.RefundedCents
	}
	if amount <= 0 || amount > tx.AmountCents-tx.RefundedCents {
		AbortWithError(c, transactiondomain.ErrInvalidAmount)
		return
	}

	prov, ok := provider.Parse(tx.Provider)
	if !ok {
		AbortWithError(c, transactiondomain.ErrInvalidProvider)
		return
	}

	adapter, err := s.integrationSvc.NewAdapter(c.Request.Context(), tx.MerchantID, prov)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := adapter.Refund(c.Request.Context(), *tx.ProviderOrderID, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	refunded := result.AmountCents
	if refunded <= 0 {
		refunded = amount
	}
	updated, err := s.transactionSvc.RecordRefund(c.Request.Context(), tx.ID, refunded)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.eventSvc.Emit(c.Request.Context(), eventsdomain.EmitRequest{
		MerchantID: tx.MerchantID,
		CustomerID: &tx.CustomerID,
		EventType:  eventsdomain.EventPaymentRefunded,
		Actor:      "merchant",
		Metadata: map[string]any{
			"transaction_id":     tx.ID,
			"refunded_cents":     refunded,
			"provider_refund_id": result.ProviderRefundID,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": updated})
}
