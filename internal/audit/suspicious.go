package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/observability"
)

// DetectSuspiciousActivity runs the advisory heuristics over a window
// and returns findings. It never mutates the trail. The window end
// defaults to now and the start to 24 hours before the end.
func (s *Service) DetectSuspiciousActivity(ctx context.Context, from, to time.Time) ([]core.Finding, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	var findings []core.Finding

	afterHours, err := s.queries.ListAfterHoursHighValue(ctx, from, to, AfterHoursAmount)
	if err != nil {
		return nil, fmt.Errorf("audit: after-hours scan: %w", err)
	}
	for _, ev := range afterHours {
		findings = append(findings, core.Finding{
			Type:    core.FindingAfterHoursTransaction,
			EventID: ev.EventID,
			Description: fmt.Sprintf("transaction of %.2f %s recorded outside business hours",
				*ev.FinancialImpact, ev.CurrencyCode),
			Severity: core.SeverityHigh,
			ActorID:  ev.Actor.ID,
		})
	}

	logins, err := s.queries.ListFailedLoginGroups(ctx, from, to, FailedLoginMin)
	if err != nil {
		return nil, fmt.Errorf("audit: failed-login scan: %w", err)
	}
	for _, g := range logins {
		findings = append(findings, core.Finding{
			Type:        core.FindingMultipleFailedLogins,
			Description: fmt.Sprintf("%d failed login attempts", g.Attempts),
			Severity:    core.SeverityNormal,
			ActorID:     g.ActorID,
			IPAddress:   g.IPAddress,
			Count:       g.Attempts,
		})
	}

	bulk, err := s.queries.ListLargeBulkOperations(ctx, from, to, BulkImpactAmount)
	if err != nil {
		return nil, fmt.Errorf("audit: bulk-operation scan: %w", err)
	}
	for _, ev := range bulk {
		findings = append(findings, core.Finding{
			Type:    core.FindingLargeBulkOperation,
			EventID: ev.EventID,
			Description: fmt.Sprintf("bulk %s with total impact %.2f %s",
				ev.ActionType, *ev.FinancialImpact, ev.CurrencyCode),
			Severity: core.SeverityHigh,
			ActorID:  ev.Actor.ID,
		})
	}

	observability.SuspiciousFindingsTotal.Add(float64(len(findings)))
	return findings, nil
}
