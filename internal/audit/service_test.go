package audit

import (
	"sort"
	"testing"

	"github.com/flowtrail/flowtrail/internal/core"
)

func TestSanitizeValues(t *testing.T) {
	in := map[string]any{
		"amount":           1200.50,
		"password":         "hunter2",
		"api_token":        "tok_live_abc",
		"Customer_SSN":     "123-45-6789",
		"bank_account_no":  "DE8937040044",
		"credit_card_last": "4242",
		"routing_number":   "021000021",
		"secret_answer":    "blue",
		"encryption_key":   "aGVsbG8=",
		"status":           "approved",
	}

	out := SanitizeValues(in)

	for _, field := range []string{
		"password", "api_token", "Customer_SSN", "bank_account_no",
		"credit_card_last", "routing_number", "secret_answer", "encryption_key",
	} {
		if out[field] != "***REDACTED***" {
			t.Errorf("expected %s to be redacted, got %v", field, out[field])
		}
	}
	if out["amount"] != 1200.50 {
		t.Errorf("amount should pass through, got %v", out["amount"])
	}
	if out["status"] != "approved" {
		t.Errorf("status should pass through, got %v", out["status"])
	}
	// Input must stay untouched.
	if in["password"] != "hunter2" {
		t.Error("sanitize mutated its input")
	}
}

func TestSanitizeValuesNil(t *testing.T) {
	if SanitizeValues(nil) != nil {
		t.Error("expected nil in, nil out")
	}
}

func TestChangedFields(t *testing.T) {
	old := map[string]any{
		"status":   "draft",
		"amount":   100,
		"currency": "USD",
		"removed":  true,
	}
	updated := map[string]any{
		"status":   "approved",
		"amount":   100.0,
		"currency": "EUR",
		"added":    "x",
	}

	changed := ChangedFields(old, updated)
	sort.Strings(changed)

	// amount 100 vs 100.0 encodes identically, added/removed keys are
	// not reported.
	want := []string{"currency", "status"}
	if len(changed) != len(want) {
		t.Fatalf("expected %v, got %v", want, changed)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, changed)
		}
	}
}

func TestChangedFieldsNilMaps(t *testing.T) {
	if got := ChangedFields(nil, map[string]any{"a": 1}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := ChangedFields(map[string]any{"a": 1}, nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		impact float64
		want   core.RiskLevel
	}{
		{0, core.RiskLow},
		{999.99, core.RiskLow},
		{1000, core.RiskMedium},
		{9999.99, core.RiskMedium},
		{10000, core.RiskHigh},
		{250000, core.RiskHigh},
	}
	for _, tc := range cases {
		if got := ClassifyRisk(tc.impact); got != tc.want {
			t.Errorf("ClassifyRisk(%v) = %s, want %s", tc.impact, got, tc.want)
		}
	}
}

func TestBulkSeverity(t *testing.T) {
	cases := []struct {
		affected int
		want     core.Severity
	}{
		{1, core.SeverityNormal},
		{100, core.SeverityNormal},
		{101, core.SeverityHigh},
		{5000, core.SeverityHigh},
	}
	for _, tc := range cases {
		if got := BulkSeverity(tc.affected); got != tc.want {
			t.Errorf("BulkSeverity(%d) = %s, want %s", tc.affected, got, tc.want)
		}
	}
}

func TestActivitySeverity(t *testing.T) {
	cases := []struct {
		action core.ActionType
		want   core.Severity
	}{
		{core.ActionLogin, core.SeverityNormal},
		{core.ActionView, core.SeverityNormal},
		{core.ActionError, core.SeverityHigh},
	}
	for _, tc := range cases {
		if got := ActivitySeverity(tc.action); got != tc.want {
			t.Errorf("ActivitySeverity(%s) = %s, want %s", tc.action, got, tc.want)
		}
	}
}

func TestIsSensitiveField(t *testing.T) {
	for _, name := range []string{"PASSWORD", "user_password_hash", "SSN", "x_api_key"} {
		if !isSensitiveField(name) {
			t.Errorf("expected %q to be sensitive", name)
		}
	}
	for _, name := range []string{"amount", "status", "description", "notes"} {
		if isSensitiveField(name) {
			t.Errorf("expected %q to be clean", name)
		}
	}
}
