package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/observability"
	"github.com/flowtrail/flowtrail/internal/store"
)

// Classification thresholds, in the trail's base currency.
const (
	ReviewThreshold     = 25000.0
	ComplianceThreshold = 10000.0
	RiskHighThreshold   = 10000.0
	RiskMediumThreshold = 1000.0

	AfterHoursAmount   = 10000.0
	BusinessHoursStart = 8
	BusinessHoursEnd   = 18
	FailedLoginMin     = 5
	BulkImpactAmount   = 50000.0

	BulkHighSeverityCount = 100
)

const redacted = "***REDACTED***"

// sensitiveFragments are matched as substrings against lowercased field
// names. Any hit redacts the value before it ever reaches the database.
var sensitiveFragments = []string{
	"password", "token", "key", "secret",
	"credit_card", "ssn", "bank_account", "routing_number",
}

// Service writes the append-only audit trail and runs the advisory
// analyses on top of it.
type Service struct {
	queries *store.Queries
	log     *zap.Logger
	now     func() time.Time
}

func NewService(queries *store.Queries, log *zap.Logger) *Service {
	return &Service{
		queries: queries,
		log:     log,
		now:     time.Now,
	}
}

// Entry is the caller-facing shape of one audit record. Values maps are
// sanitized and diffed by the service, never by callers.
type Entry struct {
	ActionType        core.ActionType
	Severity          core.Severity
	Actor             core.Actor
	SessionID         string
	IPAddress         string
	UserAgent         string
	ObjectType        string
	ObjectID          string
	ObjectRepr        string
	Description       string
	Details           map[string]any
	OldValues         map[string]any
	NewValues         map[string]any
	FinancialImpact   *float64
	CurrencyCode      string
	BusinessProcess   string
	WorkflowStep      string
	ReferenceNumber   string
	RequiresReview    bool
	SourceSystem      string
	ExternalReference string
	APIEndpoint       string
}

// LogEvent sanitizes, classifies and persists one audit record.
func (s *Service) LogEvent(ctx context.Context, e Entry) (core.AuditEvent, error) {
	if e.ActionType == "" {
		return core.AuditEvent{}, fmt.Errorf("audit: action type required")
	}
	if e.Severity == "" {
		e.Severity = core.SeverityNormal
	}

	oldClean := SanitizeValues(e.OldValues)
	newClean := SanitizeValues(e.NewValues)

	ev := core.AuditEvent{
		EventID:           core.NewID(),
		ActionType:        e.ActionType,
		Severity:          e.Severity,
		Actor:             e.Actor,
		SessionID:         e.SessionID,
		IPAddress:         e.IPAddress,
		UserAgent:         e.UserAgent,
		ObjectType:        e.ObjectType,
		ObjectID:          e.ObjectID,
		ObjectRepr:        e.ObjectRepr,
		Description:       e.Description,
		ChangedFields:     ChangedFields(e.OldValues, e.NewValues),
		FinancialImpact:   e.FinancialImpact,
		CurrencyCode:      e.CurrencyCode,
		BusinessProcess:   e.BusinessProcess,
		WorkflowStep:      e.WorkflowStep,
		ReferenceNumber:   e.ReferenceNumber,
		RequiresReview:    e.RequiresReview,
		RiskLevel:         core.RiskLow,
		SourceSystem:      e.SourceSystem,
		ExternalReference: e.ExternalReference,
		APIEndpoint:       e.APIEndpoint,
	}

	var err error
	if ev.Details, err = marshalMap(e.Details); err != nil {
		return core.AuditEvent{}, fmt.Errorf("audit: encode details: %w", err)
	}
	if ev.OldValues, err = marshalMap(oldClean); err != nil {
		return core.AuditEvent{}, fmt.Errorf("audit: encode old values: %w", err)
	}
	if ev.NewValues, err = marshalMap(newClean); err != nil {
		return core.AuditEvent{}, fmt.Errorf("audit: encode new values: %w", err)
	}

	if e.FinancialImpact != nil {
		impact := *e.FinancialImpact
		ev.RiskLevel = ClassifyRisk(impact)
		if impact > ComplianceThreshold {
			ev.ComplianceFlag = true
		}
		if impact > ReviewThreshold {
			ev.RequiresReview = true
		}
	}

	stored, err := s.queries.InsertAuditEvent(ctx, ev)
	if err != nil {
		return core.AuditEvent{}, fmt.Errorf("audit: insert event: %w", err)
	}

	observability.AuditEventsTotal.WithLabelValues(string(ev.ActionType), string(ev.RiskLevel)).Inc()
	s.log.Debug("audit event recorded",
		zap.String("event_id", stored.EventID),
		zap.String("action_type", string(stored.ActionType)),
		zap.String("object_type", stored.ObjectType),
		zap.String("actor_id", stored.Actor.ID),
	)
	return stored, nil
}

// LogModelChange records a create, update or delete against one object.
func (s *Service) LogModelChange(ctx context.Context, actor core.Actor, action core.ActionType, objectType, objectID, objectRepr string, oldValues, newValues map[string]any) (core.AuditEvent, error) {
	return s.LogEvent(ctx, Entry{
		ActionType:  action,
		Actor:       actor,
		ObjectType:  objectType,
		ObjectID:    objectID,
		ObjectRepr:  objectRepr,
		Description: fmt.Sprintf("%s %s %s", strings.ToLower(string(action)), objectType, objectRepr),
		OldValues:   oldValues,
		NewValues:   newValues,
	})
}

// LogFinancialTransaction records a money-moving action with its impact.
func (s *Service) LogFinancialTransaction(ctx context.Context, actor core.Actor, action core.ActionType, objectType, objectID string, amount float64, currency, businessProcess, referenceNumber string) (core.AuditEvent, error) {
	return s.LogEvent(ctx, Entry{
		ActionType:      action,
		Severity:        core.SeverityHigh,
		Actor:           actor,
		ObjectType:      objectType,
		ObjectID:        objectID,
		Description:     fmt.Sprintf("financial transaction: %s %s %.2f %s", strings.ToLower(string(action)), objectType, amount, currency),
		FinancialImpact: &amount,
		CurrencyCode:    currency,
		BusinessProcess: businessProcess,
		ReferenceNumber: referenceNumber,
	})
}

// LogBulkOperation records one event covering a whole batch. Batches
// over BulkHighSeverityCount rows log at HIGH severity.
func (s *Service) LogBulkOperation(ctx context.Context, actor core.Actor, action core.ActionType, objectType string, affected int, totalImpact *float64) (core.AuditEvent, error) {
	return s.LogEvent(ctx, Entry{
		ActionType:      action,
		Severity:        BulkSeverity(affected),
		Actor:           actor,
		ObjectType:      objectType,
		Description:     fmt.Sprintf("bulk operation on %d %s records", affected, objectType),
		Details:         map[string]any{"affected_count": affected},
		FinancialImpact: totalImpact,
	})
}

// LogUserActivity records session-level actions such as logins and views.
func (s *Service) LogUserActivity(ctx context.Context, actor core.Actor, action core.ActionType, ipAddress, userAgent, description string) (core.AuditEvent, error) {
	return s.LogEvent(ctx, Entry{
		ActionType:  action,
		Severity:    ActivitySeverity(action),
		Actor:       actor,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Description: description,
	})
}

// LogSystemEvent records an action with no human actor.
func (s *Service) LogSystemEvent(ctx context.Context, action core.ActionType, description string, details map[string]any) (core.AuditEvent, error) {
	return s.LogEvent(ctx, Entry{
		ActionType:   action,
		Actor:        core.Actor{ID: "system", Name: "system"},
		Description:  description,
		Details:      details,
		SourceSystem: "flowtrail",
	})
}

// LogIntegrationEvent records traffic with an external system.
func (s *Service) LogIntegrationEvent(ctx context.Context, sourceSystem, externalReference string, action core.ActionType, description string, details map[string]any) (core.AuditEvent, error) {
	return s.LogEvent(ctx, Entry{
		ActionType:        action,
		Actor:             core.Actor{ID: "integration", Name: sourceSystem},
		Description:       description,
		Details:           details,
		SourceSystem:      sourceSystem,
		ExternalReference: externalReference,
	})
}

// SanitizeValues redacts any field whose name contains a sensitive
// fragment. The input map is not modified.
func SanitizeValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if isSensitiveField(k) {
			out[k] = redacted
		} else {
			out[k] = v
		}
	}
	return out
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// ChangedFields returns the names of keys present in both maps whose
// values differ. Added and removed keys are not reported.
func ChangedFields(oldValues, newValues map[string]any) []string {
	if oldValues == nil || newValues == nil {
		return nil
	}
	var changed []string
	for k, oldV := range oldValues {
		newV, ok := newValues[k]
		if !ok {
			continue
		}
		if !equalValue(oldV, newV) {
			changed = append(changed, k)
		}
	}
	return changed
}

// equalValue compares via JSON encoding so numeric types and nested
// structures compare by content.
func equalValue(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return string(aj) == string(bj)
}

// ClassifyRisk brackets an absolute financial impact.
func ClassifyRisk(impact float64) core.RiskLevel {
	switch {
	case impact >= RiskHighThreshold:
		return core.RiskHigh
	case impact >= RiskMediumThreshold:
		return core.RiskMedium
	default:
		return core.RiskLow
	}
}

// ActivitySeverity grades a session-level action. Successful activity
// is NORMAL; only errors escalate.
func ActivitySeverity(action core.ActionType) core.Severity {
	if action == core.ActionError {
		return core.SeverityHigh
	}
	return core.SeverityNormal
}

// BulkSeverity grades a batch by row count.
func BulkSeverity(affected int) core.Severity {
	if affected > BulkHighSeverityCount {
		return core.SeverityHigh
	}
	return core.SeverityNormal
}

func marshalMap(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
