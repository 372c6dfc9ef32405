package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/store"
)

// ListAuditEvents queries the trail with SQL-side filters, newest
// first.
func (a *API) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50, 500)

	var minAmount *float64
	if s := q.Get("min_amount"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid min_amount"))
			return
		}
		minAmount = &v
	}

	events, err := a.queries.ListAuditEvents(ctx, store.AuditFilter{
		ObjectType:      q.Get("object_type"),
		ObjectID:        q.Get("object_id"),
		ActorID:         q.Get("actor_id"),
		ActionTypes:     splitCSV(q.Get("action_type")),
		BusinessProcess: q.Get("business_process"),
		ComplianceOnly:  q.Get("compliance") == "true",
		FinancialOnly:   q.Get("financial") == "true" || minAmount != nil,
		MinAmount:       minAmount,
		RiskLevels:      splitCSV(q.Get("risk_level")),
		From:            parseTime(q.Get("from")),
		To:              parseTime(q.Get("to")),
		Limit:           int32(limit),
		Cursor:          parseCursor(q.Get("cursor")),
	})
	if err != nil {
		a.log.Error("list audit events failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list audit events"))
		return
	}

	var nextCursor string
	if len(events) == limit {
		nextCursor = encodeCursor(events[len(events)-1].EventTimestamp)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"next_cursor": nextCursor,
	})
}

// AuditSummary returns the aggregate report for a window.
func (a *API) AuditSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to := windowFromQuery(r)

	sum, err := a.audit.GenerateSummary(ctx, from, to)
	if err != nil {
		a.writeAppErr(w, err, "failed to generate summary")
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}

// SuspiciousActivity runs the advisory heuristics over a window.
func (a *API) SuspiciousActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to := windowFromQuery(r)

	findings, err := a.audit.DetectSuspiciousActivity(ctx, from, to)
	if err != nil {
		a.writeAppErr(w, err, "failed to scan for suspicious activity")
		return
	}
	if findings == nil {
		findings = []core.Finding{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"findings": findings,
	})
}

func windowFromQuery(r *http.Request) (time.Time, time.Time) {
	var from, to time.Time
	if t := parseTime(r.URL.Query().Get("from")); t != nil {
		from = *t
	}
	if t := parseTime(r.URL.Query().Get("to")); t != nil {
		to = *t
	}
	return from, to
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
