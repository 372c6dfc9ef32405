package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/flowtrail/flowtrail/internal/store"
)

// Summary aggregates trail activity over one window.
type Summary struct {
	PeriodStart      time.Time                `json:"period_start"`
	PeriodEnd        time.Time                `json:"period_end"`
	TotalEvents      int                      `json:"total_events"`
	ComplianceEvents int                      `json:"compliance_events"`
	ByAction         []store.CountRow         `json:"by_action"`
	ByActor          []store.ActorCountRow    `json:"by_actor"`
	ByProcess        []store.CountRow         `json:"by_process"`
	ByRisk           []store.CountRow         `json:"by_risk"`
	TopErrors        []store.CountRow         `json:"top_errors"`
	Financial        store.FinancialAggregates `json:"financial"`
}

// GenerateSummary builds the aggregate report for a window. The window
// end defaults to now and the start to 30 days before the end.
func (s *Service) GenerateSummary(ctx context.Context, from, to time.Time) (Summary, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return Summary{}, fmt.Errorf("audit: summary window start %s is not before end %s", from, to)
	}

	sum := Summary{PeriodStart: from, PeriodEnd: to}
	var err error

	if sum.TotalEvents, err = s.queries.CountEvents(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: count events: %w", err)
	}
	if sum.ComplianceEvents, err = s.queries.CountComplianceEvents(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: count compliance events: %w", err)
	}
	if sum.ByAction, err = s.queries.CountEventsByAction(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: count by action: %w", err)
	}
	if sum.ByActor, err = s.queries.CountEventsByActor(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: count by actor: %w", err)
	}
	if sum.ByProcess, err = s.queries.CountEventsByProcess(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: count by process: %w", err)
	}
	if sum.ByRisk, err = s.queries.CountEventsByRisk(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: count by risk: %w", err)
	}
	if sum.TopErrors, err = s.queries.CountErrorDescriptions(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: top errors: %w", err)
	}
	if sum.Financial, err = s.queries.FinancialImpactAggregates(ctx, from, to); err != nil {
		return Summary{}, fmt.Errorf("audit: financial aggregates: %w", err)
	}
	return sum, nil
}
