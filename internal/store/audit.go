package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowtrail/flowtrail/internal/core"
)

const auditColumns = `event_id, action_type, severity, event_timestamp,
	actor_id, actor_email, actor_name, session_id, ip_address, user_agent,
	object_type, object_id, object_repr, description, details,
	old_values, new_values, changed_fields,
	financial_impact, currency_code, business_process, workflow_step,
	reference_number, compliance_flag, risk_level, requires_review,
	source_system, external_reference, api_endpoint, is_processed, processing_error`

func scanAuditEvent(row interface{ Scan(...any) error }) (core.AuditEvent, error) {
	var e core.AuditEvent
	var changed []byte
	err := row.Scan(
		&e.EventID, &e.ActionType, &e.Severity, &e.EventTimestamp,
		&e.Actor.ID, &e.Actor.Email, &e.Actor.Name, &e.SessionID, &e.IPAddress, &e.UserAgent,
		&e.ObjectType, &e.ObjectID, &e.ObjectRepr, &e.Description, &e.Details,
		&e.OldValues, &e.NewValues, &changed,
		&e.FinancialImpact, &e.CurrencyCode, &e.BusinessProcess, &e.WorkflowStep,
		&e.ReferenceNumber, &e.ComplianceFlag, &e.RiskLevel, &e.RequiresReview,
		&e.SourceSystem, &e.ExternalReference, &e.APIEndpoint, &e.IsProcessed, &e.ProcessingError,
	)
	if err != nil {
		return core.AuditEvent{}, err
	}
	if err := json.Unmarshal(changed, &e.ChangedFields); err != nil {
		return core.AuditEvent{}, fmt.Errorf("decode changed_fields: %w", err)
	}
	return e, nil
}

func (q *Queries) InsertAuditEvent(ctx context.Context, e core.AuditEvent) (core.AuditEvent, error) {
	changed, err := json.Marshal(e.ChangedFields)
	if err != nil {
		return core.AuditEvent{}, err
	}
	if e.ChangedFields == nil {
		changed = []byte("[]")
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO ft.audit_events (
			event_id, action_type, severity,
			actor_id, actor_email, actor_name, session_id, ip_address, user_agent,
			object_type, object_id, object_repr, description, details,
			old_values, new_values, changed_fields,
			financial_impact, currency_code, business_process, workflow_step,
			reference_number, compliance_flag, risk_level, requires_review,
			source_system, external_reference, api_endpoint
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,
			$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28
		)
		RETURNING `+auditColumns,
		e.EventID, e.ActionType, e.Severity,
		e.Actor.ID, e.Actor.Email, e.Actor.Name, e.SessionID, e.IPAddress, e.UserAgent,
		e.ObjectType, e.ObjectID, e.ObjectRepr, e.Description, jsonbOr(e.Details, "{}"),
		jsonbOr(e.OldValues, "{}"), jsonbOr(e.NewValues, "{}"), changed,
		e.FinancialImpact, e.CurrencyCode, e.BusinessProcess, e.WorkflowStep,
		e.ReferenceNumber, e.ComplianceFlag, e.RiskLevel, e.RequiresReview,
		e.SourceSystem, e.ExternalReference, e.APIEndpoint,
	)
	return scanAuditEvent(row)
}

// SetRequiresReview is the single permitted post-insert mutation.
func (q *Queries) SetRequiresReview(ctx context.Context, eventID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE ft.audit_events SET requires_review = true WHERE event_id = $1`,
		eventID)
	return err
}

type AuditFilter struct {
	ObjectType      string
	ObjectID        string
	ActorID         string
	ActionTypes     []string
	BusinessProcess string
	ComplianceOnly  bool
	FinancialOnly   bool
	MinAmount       *float64
	RiskLevels      []string
	From            *time.Time
	To              *time.Time
	Limit           int32
	Cursor          *time.Time
}

func (q *Queries) ListAuditEvents(ctx context.Context, f AuditFilter) ([]core.AuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+auditColumns+`
		FROM ft.audit_events
		WHERE ($1 = '' OR object_type = $1)
		  AND ($2 = '' OR object_id = $2)
		  AND ($3 = '' OR actor_id = $3)
		  AND (cardinality($4::text[]) = 0 OR action_type = ANY($4))
		  AND ($5 = '' OR business_process = $5)
		  AND (NOT $6::bool OR compliance_flag)
		  AND (NOT $7::bool OR financial_impact IS NOT NULL)
		  AND ($8::numeric IS NULL OR financial_impact >= $8)
		  AND (cardinality($9::text[]) = 0 OR risk_level = ANY($9))
		  AND ($10::timestamptz IS NULL OR event_timestamp >= $10)
		  AND ($11::timestamptz IS NULL OR event_timestamp <= $11)
		  AND ($12::timestamptz IS NULL OR event_timestamp < $12)
		ORDER BY event_timestamp DESC
		LIMIT $13`,
		f.ObjectType, f.ObjectID, f.ActorID, textArray(f.ActionTypes),
		f.BusinessProcess, f.ComplianceOnly, f.FinancialOnly, f.MinAmount,
		textArray(f.RiskLevels), f.From, f.To, f.Cursor, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func textArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

type CountRow struct {
	Key   string
	Count int
}

type ActorCountRow struct {
	ActorID    string
	ActorEmail string
	Count      int
}

type FinancialAggregates struct {
	Total            *float64
	Max              *float64
	Avg              *float64
	TransactionCount int
}

func (q *Queries) countGrouped(ctx context.Context, sql string, from, to time.Time) ([]CountRow, error) {
	rows, err := q.db.Query(ctx, sql, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CountRow
	for rows.Next() {
		var r CountRow
		if err := rows.Scan(&r.Key, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) CountEventsByAction(ctx context.Context, from, to time.Time) ([]CountRow, error) {
	return q.countGrouped(ctx, `
		SELECT action_type, count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2
		GROUP BY action_type ORDER BY count(*) DESC`, from, to)
}

func (q *Queries) CountEventsByProcess(ctx context.Context, from, to time.Time) ([]CountRow, error) {
	return q.countGrouped(ctx, `
		SELECT business_process, count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2 AND business_process <> ''
		GROUP BY business_process ORDER BY count(*) DESC`, from, to)
}

func (q *Queries) CountEventsByRisk(ctx context.Context, from, to time.Time) ([]CountRow, error) {
	return q.countGrouped(ctx, `
		SELECT risk_level, count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2
		GROUP BY risk_level`, from, to)
}

func (q *Queries) CountErrorDescriptions(ctx context.Context, from, to time.Time) ([]CountRow, error) {
	return q.countGrouped(ctx, `
		SELECT description, count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2 AND action_type = 'ERROR'
		GROUP BY description ORDER BY count(*) DESC`, from, to)
}

func (q *Queries) CountEventsByActor(ctx context.Context, from, to time.Time) ([]ActorCountRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT actor_id, actor_email, count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2
		GROUP BY actor_id, actor_email ORDER BY count(*) DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActorCountRow
	for rows.Next() {
		var r ActorCountRow
		if err := rows.Scan(&r.ActorID, &r.ActorEmail, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) FinancialImpactAggregates(ctx context.Context, from, to time.Time) (FinancialAggregates, error) {
	var agg FinancialAggregates
	err := q.db.QueryRow(ctx, `
		SELECT sum(financial_impact), max(financial_impact),
		       avg(financial_impact), count(*)
		FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2 AND financial_impact IS NOT NULL`,
		from, to).Scan(&agg.Total, &agg.Max, &agg.Avg, &agg.TransactionCount)
	return agg, err
}

func (q *Queries) CountEvents(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2`, from, to).Scan(&n)
	return n, err
}

func (q *Queries) CountComplianceEvents(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2 AND compliance_flag`, from, to).Scan(&n)
	return n, err
}

// ListAfterHoursHighValue finds events over the amount threshold whose
// local timestamp falls outside 08:00-18:00.
func (q *Queries) ListAfterHoursHighValue(ctx context.Context, from, to time.Time, threshold float64) ([]core.AuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+auditColumns+`
		FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2
		  AND financial_impact > $3
		  AND (extract(hour FROM event_timestamp) < 8
		       OR extract(hour FROM event_timestamp) >= 18)
		ORDER BY event_timestamp DESC`,
		from, to, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type FailedLoginGroup struct {
	ActorID   string
	IPAddress string
	Attempts  int
}

func (q *Queries) ListFailedLoginGroups(ctx context.Context, from, to time.Time, minAttempts int) ([]FailedLoginGroup, error) {
	rows, err := q.db.Query(ctx, `
		SELECT actor_id, ip_address, count(*)
		FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2
		  AND action_type = 'ERROR'
		  AND description ILIKE '%login%'
		GROUP BY actor_id, ip_address
		HAVING count(*) >= $3`,
		from, to, minAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailedLoginGroup
	for rows.Next() {
		var g FailedLoginGroup
		if err := rows.Scan(&g.ActorID, &g.IPAddress, &g.Attempts); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *Queries) ListLargeBulkOperations(ctx context.Context, from, to time.Time, threshold float64) ([]core.AuditEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+auditColumns+`
		FROM ft.audit_events
		WHERE event_timestamp BETWEEN $1 AND $2
		  AND action_type LIKE 'BULK\_%'
		  AND financial_impact > $3
		ORDER BY event_timestamp DESC`,
		from, to, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
