package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
)

func (s *Server) CreateCoupon(c *gin.Context) {
	var req coupondomain.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	coupon, err := s.couponSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": coupon})
}

// ValidateCoupon previews the discount without holding a usage slot.
func (s *Server) ValidateCoupon(c *gin.Context) {
	var req coupondomain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	redemption, err := s.couponSvc.Validate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": redemption})
}
