package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	enrollmentdomain "github.com/smallbiznis/gymdesk/internal/enrollment/domain"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
)

type enrollRequest struct {
	Member        memberdomain.MemberDetails `json:"member"`
	PlanID        string                     `json:"plan_id"`
	StartDate     string                     `json:"start_date"`
	DurationDays  int                        `json:"duration_days"`
	CouponCode    string                     `json:"coupon_code"`
	PaymentMethod string                     `json:"payment_method"`
	BranchID      string                     `json:"branch_id"`
}

func (s *Server) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	planID, err := parseOptionalSnowflakeID(req.PlanID)
	if err != nil || planID == nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan", "invalid plan_id"))
		return
	}
	branchID, err := parseOptionalSnowflakeID(req.BranchID)
	if err != nil {
		AbortWithError(c, newValidationError("branch_id", "invalid_branch", "invalid branch_id"))
		return
	}
	startDate, err := parseOptionalTime(req.StartDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}

	var start time.Time
	if startDate != nil {
		start = *startDate
	}

	result, err := s.enrollmentSvc.Enroll(c.Request.Context(), enrollmentdomain.EnrollRequest{
		Member:        req.Member,
		PlanID:        *planID,
		StartDate:     start,
		DurationDays:  req.DurationDays,
		CouponCode:    strings.TrimSpace(req.CouponCode),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		BranchID:      branchID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}
