package server

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// WebhookRateLimit throttles deliveries per client address.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.limiter.AllowSource(c.Request.Context(), c.ClientIP())
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			s.obsMetrics.RecordWebhookDelivery(c.Request.Context(), "rate_limited")
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// HandlePaymentWebhook acknowledges redeliveries with 200 so the gateway stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
