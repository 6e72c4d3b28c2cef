package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	servicerequestdomain "github.com/rubhub/payouts/internal/servicerequest/domain"
)

type createServiceRequestRequest struct {
	TherapistID    string `json:"therapist_id"`
	CustomerID     string `json:"customer_id"`
	BasePrice      int64  `json:"base_price"`
	TravelFee      int64  `json:"travel_fee"`
	DiscountAmount int64  `json:"discount_amount"`
	Currency       string `json:"currency"`
}

func (s *Server) CreateServiceRequest(c *gin.Context) {
	var req createServiceRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	therapistID, err := parseSnowflakeID("therapist_id", req.TherapistID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var customerID snowflake.ID
	if strings.TrimSpace(req.CustomerID) != "" {
		if customerID, err = parseSnowflakeID("customer_id", req.CustomerID); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.requestSvc.Create(c.Request.Context(), servicerequestdomain.CreateRequest{
		TherapistID:    therapistID,
		CustomerID:     customerID,
		BasePrice:      req.BasePrice,
		TravelFee:      req.TravelFee,
		DiscountAmount: req.DiscountAmount,
		Currency:       strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetServiceRequest(c *gin.Context) {
	s.withServiceRequest(c, s.requestSvc.GetByID)
}

func (s *Server) AcceptServiceRequest(c *gin.Context) {
	s.withServiceRequest(c, s.requestSvc.Accept)
}

func (s *Server) StartServiceRequest(c *gin.Context) {
	s.withServiceRequest(c, s.requestSvc.Start)
}

func (s *Server) CancelServiceRequest(c *gin.Context) {
	s.withServiceRequest(c, s.requestSvc.Cancel)
}

func (s *Server) CompleteServiceRequest(c *gin.Context) {
	s.withServiceRequest(c, s.requestSvc.MarkCompleted)
}

func (s *Server) MarkServiceRequestPaid(c *gin.Context) {
	s.withServiceRequest(c, s.requestSvc.MarkPaid)
}

func (s *Server) withServiceRequest(
	c *gin.Context,
	fn func(ctx context.Context, id snowflake.ID) (*servicerequestdomain.ServiceRequest, error),
) {
	id, err := parseSnowflakeID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := fn(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
