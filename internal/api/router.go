package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/api/middleware"
	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/engine"
	"github.com/flowtrail/flowtrail/internal/store"
)

type API struct {
	pool    *pgxpool.Pool
	queries *store.Queries
	engine  *engine.Engine
	audit   *audit.Service
	log     *zap.Logger
}

func NewAPI(pool *pgxpool.Pool, eng *engine.Engine, auditSvc *audit.Service, log *zap.Logger) *API {
	return &API{
		pool:    pool,
		queries: store.New(pool),
		engine:  eng,
		audit:   auditSvc,
		log:     log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Workflow definitions
		r.Get("/definitions", a.ListDefinitions)
		r.Post("/definitions", a.CreateDefinition)
		r.Get("/definitions/{definition_id}", a.GetDefinition)
		r.Delete("/definitions/{definition_id}", a.DeactivateDefinition)
		r.Post("/definitions/{definition_id}:new-version", a.NewDefinitionVersion)

		// Executions
		r.Post("/definitions/{definition_id}/executions", a.StartExecution)
		r.Get("/executions", a.ListExecutions)
		r.Get("/executions/{execution_id}", a.GetExecution)
		r.Get("/executions/{execution_id}/steps", a.ListExecutionSteps)
		r.Post("/executions/{execution_id}:cancel", a.CancelExecution)
		r.Post("/executions/{execution_id}:pause", a.PauseExecution)
		r.Post("/executions/{execution_id}:resume", a.ResumeExecution)

		// Step approvals
		r.Post("/steps/{step_id}:approve", a.ApproveStep)
		r.Post("/steps/{step_id}:reject", a.RejectStep)

		// Business objects
		r.Put("/objects/{object_id}", a.UpsertObject)
		r.Get("/objects/{object_id}", a.GetObject)

		// Audit trail
		r.Get("/audit/events", a.ListAuditEvents)
		r.Get("/audit/summary", a.AuditSummary)
		r.Get("/audit/suspicious", a.SuspiciousActivity)
	})

	return r
}

// recordAudit writes an API-originated audit event, filling request
// context. Trail failures never fail the request.
func (a *API) recordAudit(ctx context.Context, r *http.Request, entry audit.Entry) {
	if entry.Actor.ID == "" {
		entry.Actor.ID = r.Header.Get("X-Actor-ID")
	}
	entry.IPAddress = r.RemoteAddr
	entry.UserAgent = r.UserAgent()
	entry.APIEndpoint = r.URL.Path
	if _, err := a.audit.LogEvent(ctx, entry); err != nil {
		a.log.Warn("failed to record audit event", zap.Error(err))
	}
}

// encodeCursor encodes a timestamp as a base64 cursor.
func encodeCursor(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(t.Format(time.RFC3339Nano)))
}

// decodeCursor decodes a base64 cursor to a timestamp.
func decodeCursor(s string) (time.Time, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(b))
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}

func parseCursor(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := decodeCursor(s)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
