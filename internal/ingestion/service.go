package ingestion

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
	"github.com/pulsegrid-lab/pulsegrid/internal/archive"
	"github.com/pulsegrid-lab/pulsegrid/internal/auth"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/alerting"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

// MaxEventsPerBatch caps one ingest request. Larger producers split batches.
const MaxEventsPerBatch = 512

// Publisher forwards validated, pre-grouped event batches into the live
// aggregation core. Fire-and-forget: the producer is never awaited on
// coordinator-side completion.
type Publisher interface {
	Publish(key v1.PartitionKey, events []v1.Event)
}

// Service owns the ingest path: authenticate → validate → persist
// (archive + summaries + alerts) → forward to the partition router.
type Service struct {
	authSvc          *auth.Service
	archiver         archive.Archiver
	summaries        storage.SummaryStore
	alerts           storage.AlertStore
	evaluator        *alerting.Evaluator
	publisher        Publisher
	maxBodySizeBytes int
}

// NewService wires the ingest service. All collaborators are required except
// the evaluator, which may run with zero rules.
func NewService(
	authSvc *auth.Service,
	archiver archive.Archiver,
	summaries storage.SummaryStore,
	alerts storage.AlertStore,
	evaluator *alerting.Evaluator,
	publisher Publisher,
	maxBodySizeMB int,
) *Service {
	if authSvc == nil {
		panic("ingestion: auth service must not be nil")
	}
	if archiver == nil {
		panic("ingestion: archiver must not be nil")
	}
	if summaries == nil {
		panic("ingestion: summary store must not be nil")
	}
	if alerts == nil {
		panic("ingestion: alert store must not be nil")
	}
	if publisher == nil {
		panic("ingestion: publisher must not be nil")
	}
	if evaluator == nil {
		evaluator = alerting.NewEvaluator(nil)
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		authSvc:          authSvc,
		archiver:         archiver,
		summaries:        summaries,
		alerts:           alerts,
		evaluator:        evaluator,
		publisher:        publisher,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/ingest", auth.Middleware(s.authSvc), s.IngestHandler)
}
