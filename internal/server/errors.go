package server

import (
	"errors"
	"net/http"
	"strings"

	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	checkoutdomain "github.com/clinicware/payrail/internal/checkout/domain"
	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	routingdomain "github.com/clinicware/payrail/internal/routing/domain"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: validationMessage(err),
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isUnprocessableError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_unavailable",
			Message: "payment provider unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, checkoutdomain.ErrInvalidRequest),
		errors.Is(err, checkoutdomain.ErrNoPaymentInput),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, openfinancedomain.ErrInvalidRequest),
		errors.Is(err, subscriptiondomain.ErrInvalidRequest),
		errors.Is(err, subscriptiondomain.ErrInvalidDocument),
		errors.Is(err, subscriptiondomain.ErrInvalidPhone),
		errors.Is(err, eventsdomain.ErrInvalidRequest),
		errors.Is(err, integrationdomain.ErrInvalidProvider),
		errors.Is(err, integrationdomain.ErrInvalidCredentials),
		errors.Is(err, routingdomain.ErrInvalidProvider),
		errors.Is(err, routingdomain.ErrInvalidMethod),
		errors.Is(err, catalogdomain.ErrInvalidName),
		errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, catalogdomain.ErrInvalidInterval),
		errors.Is(err, catalogdomain.ErrInvalidProvider),
		errors.Is(err, customerdomain.ErrInvalidProfile),
		errors.Is(err, customerdomain.ErrInvalidProvider),
		errors.Is(err, transactiondomain.ErrInvalidAmount),
		errors.Is(err, transactiondomain.ErrInvalidProvider):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, integrationdomain.ErrNotFound),
		errors.Is(err, routingdomain.ErrRuleNotFound),
		errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, catalogdomain.ErrOfferNotFound),
		errors.Is(err, customerdomain.ErrCustomerNotFound),
		errors.Is(err, customerdomain.ErrPaymentMethodMissing),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, transactiondomain.ErrTransactionMissing),
		errors.Is(err, openfinancedomain.ErrConsentNotFound),
		errors.Is(err, eventsdomain.ErrEndpointNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, subscriptiondomain.ErrAlreadyCanceled),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, openfinancedomain.ErrDuplicateLink),
		errors.Is(err, transactiondomain.ErrDuplicateCharge),
		errors.Is(err, paymentdomain.ErrDuplicateRequest):
		return true
	default:
		return false
	}
}

// isUnprocessableError covers requests that are well-formed but rejected by
// business state: a declined charge, a disabled integration, an inactive
// offer or consent.
func isUnprocessableError(err error) bool {
	switch {
	case errors.Is(err, integrationdomain.ErrVerificationFailed),
		errors.Is(err, integrationdomain.ErrInactive),
		errors.Is(err, checkoutdomain.ErrOfferInactive),
		errors.Is(err, openfinancedomain.ErrConsentInactive),
		errors.Is(err, subscriptiondomain.ErrNeedsAttention),
		errors.Is(err, paymentdomain.ErrPaymentDeclined):
		return true
	default:
		return false
	}
}

func validationMessage(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "invalid_") {
		return "invalid " + strings.ReplaceAll(strings.TrimPrefix(msg, "invalid_"), "_", " ")
	}
	return msg
}

// classifyErrorForLog maps a handler error to the (type, code) pair the
// request logger records.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error", payload.Type
	default:
		return "client_error", payload.Type
	}
}
