package query

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulsegrid-lab/pulsegrid/internal/auth"
	httperr "github.com/pulsegrid-lab/pulsegrid/internal/core/errors"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

// ScopeAlertsWrite gates alert acknowledgement.
const ScopeAlertsWrite = "alerts:write"

// RegisterRoutes registers all query API routes on the given router. Every
// route runs behind bearer authentication.
func (s *Service) RegisterRoutes(r gin.IRouter, authSvc *auth.Service) {
	authed := r.Group("", auth.Middleware(authSvc))
	authed.GET("/v1/metrics", s.HandleQueryMetrics)
	authed.GET("/v1/alerts", s.HandleListAlerts)
	authed.POST("/v1/alerts/:alert_id/ack", auth.RequireScope(ScopeAlertsWrite), s.HandleAckAlert)
}

// HandleQueryMetrics handles GET /v1/metrics
// Query parameters: streamId, from, to, granularity, limit
func (s *Service) HandleQueryMetrics(c *gin.Context) {
	var query struct {
		StreamID    string    `form:"streamId"`
		From        time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
		To          time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
		Granularity string    `form:"granularity"`
		Limit       int       `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	identity := auth.FromContext(c)
	resp, err := s.QueryMetrics(c.Request.Context(), MetricRequest{
		TenantID:    identity.TenantID,
		StreamID:    query.StreamID,
		From:        query.From,
		To:          query.To,
		Granularity: query.Granularity,
		Limit:       query.Limit,
	})
	if err != nil {
		writeQueryError(c, "Failed to query metrics", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleListAlerts handles GET /v1/alerts
// Query parameters: limit
func (s *Service) HandleListAlerts(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	identity := auth.FromContext(c)
	resp, err := s.ListAlerts(c.Request.Context(), identity.TenantID, query.Limit)
	if err != nil {
		writeQueryError(c, "Failed to list alerts", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleAckAlert handles POST /v1/alerts/:alert_id/ack
func (s *Service) HandleAckAlert(c *gin.Context) {
	var uri struct {
		AlertID string `uri:"alert_id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	identity := auth.FromContext(c)
	err := s.AckAlert(c.Request.Context(), identity.TenantID, uri.AlertID, identity.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "Alert not found",
			})
			return
		}
		writeQueryError(c, "Failed to acknowledge alert", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func writeQueryError(c *gin.Context, message string, err error) {
	if errors.Is(err, ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   message,
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
		Details:   err.Error(),
	})
}
