package ingestion

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
	"github.com/pulsegrid-lab/pulsegrid/internal/archive"
	"github.com/pulsegrid-lab/pulsegrid/internal/auth"
	httperr "github.com/pulsegrid-lab/pulsegrid/internal/core/errors"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist events"
)

// ingestRequest is the batch envelope producers POST to /v1/ingest.
type ingestRequest struct {
	Events []v1.Event `json:"events"`

	// ClientTimestamp is the producer's send time in Unix milliseconds.
	// Recorded alongside each archived event for clock-skew diagnosis.
	ClientTimestamp int64 `json:"clientTimestamp,omitempty"`
}

// ingestionError carries the structured HTTP error shape from a helper back to
// the orchestrator. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for batch event ingestion.
func (s *Service) IngestHandler(c *gin.Context) {
	req, payloadSize, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	identity := auth.FromContext(c)
	receivedAt := time.Now().UTC()

	if err := validateBatch(req.Events, identity, receivedAt); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received event batch",
		"tenant_id", identity.TenantID,
		"event_count", len(req.Events),
		"payload_size", payloadSize)

	if err := s.persistBatch(c.Request.Context(), req, receivedAt); err != nil {
		writeError(c, err)
		return
	}

	// Persisted. Fan out to the live aggregation path grouped by partition
	// key so each coordinator receives its events in batch order.
	for key, group := range groupByKey(req.Events) {
		s.publisher.Publish(key, group)
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Events)})
}

// parseBatch reads the raw request body and binds it into an ingestRequest.
// Returns the parsed batch and the raw payload size (used for structured
// logging upstream).
func (s *Service) parseBatch(c *gin.Context) (*ingestRequest, int, *ingestionError) {
	contentType := c.GetHeader("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
		return nil, 0, &ingestionError{
			statusCode: http.StatusUnsupportedMediaType,
			errorType:  httperr.HttpUnsupportedMediaType,
			message:    "Content-Type must be application/json",
		}
	}

	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if len(req.Events) == 0 {
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "events must contain at least one event",
		}
	}
	if len(req.Events) > MaxEventsPerBatch {
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "events exceeds maximum batch size",
			details: map[string]interface{}{
				"max_events": MaxEventsPerBatch,
			},
		}
	}

	return &req, len(bodyBytes), nil
}

// validateBatch normalizes and validates every event in place, then enforces
// that each event belongs to the authenticated tenant. The batch is rejected
// as a whole on the first failure.
func validateBatch(events []v1.Event, identity *auth.Identity, receivedAt time.Time) *ingestionError {
	for i := range events {
		events[i].Normalize(receivedAt)
		if err := events[i].Validate(); err != nil {
			slog.Warn("Event validation failed", "error", err, "index", i)
			return &ingestionError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidJsonError,
				message:    err.Error(),
				details:    map[string]interface{}{"index": i},
			}
		}
		if events[i].TenantID != identity.TenantID {
			slog.Warn("Event tenant does not match token",
				"event_tenant", events[i].TenantID,
				"token_tenant", identity.TenantID,
				"index", i)
			return &ingestionError{
				statusCode: http.StatusForbidden,
				errorType:  httperr.HttpTenantMismatchError,
				message:    "event tenantId does not match authenticated tenant",
				details:    map[string]interface{}{"index": i},
			}
		}
	}
	return nil
}

// persistBatch writes the batch to the three storage sinks concurrently:
// the raw archive, the summary store, and the alert store (via rule
// evaluation). Any failure fails the request.
func (s *Service) persistBatch(ctx context.Context, req *ingestRequest, receivedAt time.Time) *ingestionError {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for _, event := range req.Events {
			record := archive.NewRecord(event, receivedAt, req.ClientTimestamp)
			if err := s.archiver.Archive(gctx, record); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		return s.summaries.SaveSummaries(gctx, buildSummaries(req.Events))
	})

	g.Go(func() error {
		raised := s.evaluator.Evaluate(req.Events, receivedAt)
		if len(raised) == 0 {
			return nil
		}
		records := make([]storage.AlertRecord, 0, len(raised))
		for _, alert := range raised {
			records = append(records, storage.AlertRecord{
				ID:        alert.ID,
				TenantID:  alert.TenantID,
				StreamID:  alert.StreamID,
				RuleID:    alert.RuleID,
				Severity:  alert.Severity,
				Payload:   alert.Payload,
				CreatedAt: alert.CreatedAt,
			})
		}
		slog.Info("Alert rules fired", "alert_count", len(records))
		return s.alerts.InsertAlerts(gctx, records)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Failed to persist event batch", "error", err, "event_count", len(req.Events))
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}
	return nil
}

// buildSummaries projects events into the compact per-event records the
// historical query endpoints roll up.
func buildSummaries(events []v1.Event) []storage.EventSummary {
	summaries := make([]storage.EventSummary, 0, len(events))
	for _, event := range events {
		summary := map[string]interface{}{
			"topic":      event.Topic,
			"importance": string(event.Importance),
		}
		if len(event.Tags) > 0 {
			summary["tags"] = event.Tags
		}
		summaries = append(summaries, storage.EventSummary{
			TenantID:   event.TenantID,
			StreamID:   event.StreamID,
			Topic:      event.Topic,
			Ts:         time.UnixMilli(event.TimestampMs).UTC(),
			Importance: string(event.Importance),
			Summary:    summary,
		})
	}
	return summaries
}

// groupByKey splits a batch by partition key, preserving batch order within
// each group.
func groupByKey(events []v1.Event) map[v1.PartitionKey][]v1.Event {
	groups := make(map[v1.PartitionKey][]v1.Event)
	for _, event := range events {
		key := event.Key()
		groups[key] = append(groups[key], event)
	}
	return groups
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
