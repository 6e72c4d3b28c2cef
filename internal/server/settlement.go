package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	settlementdomain "github.com/rubhub/payouts/internal/settlement/domain"
	"go.uber.org/zap"
)

type summaryResponse struct {
	*settlementdomain.Summary
	Errors []string `json:"errors"`
}

// RunSettlement triggers the weekly settlement immediately. It shares the run lock
// with the cron trigger.
func (s *Server) RunSettlement(c *gin.Context) {
	if s.runner == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	// A client hanging up must not abort a run that is already moving money.
	ctx := context.WithoutCancel(c.Request.Context())
	summary, err := s.runner.RunOnce(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("settlement triggered manually",
		zap.String("run_id", summary.RunID),
		zap.Int("error_count", len(summary.Errors)),
	)
	c.JSON(http.StatusOK, gin.H{"data": summaryResponse{
		Summary: summary,
		Errors:  summary.ErrorMessages(),
	}})
}
