package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/rubhub/payouts/internal/payout/domain"
	"github.com/rubhub/payouts/pkg/db/pagination"
)

type listQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

func (s *Server) ListPayments(c *gin.Context) {
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.ListPayments(c.Request.Context(), payoutdomain.ListPaymentsRequest{
		Status:     payoutdomain.PaymentStatus(strings.ToLower(strings.TrimSpace(query.Status))),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayment(c *gin.Context) {
	id, err := parseSnowflakeID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFeeTransfers(c *gin.Context) {
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.ListFeeTransfers(c.Request.Context(), payoutdomain.ListFeeTransfersRequest{
		Status:     payoutdomain.FeeTransferStatus(strings.ToLower(strings.TrimSpace(query.Status))),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
