package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowtrail/flowtrail/internal/core"
)

// Mock tests for API handlers without DB dependency

func TestHealthHandler(t *testing.T) {
	api := &API{}
	r := chi.NewRouter()
	r.Get("/healthz", api.HealthHandler)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body OK, got %s", w.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, core.NewAppError(core.ErrBadRequest, "test error"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp.Code != "FT_BAD_REQUEST" {
		t.Errorf("expected code FT_BAD_REQUEST, got %s", resp.Code)
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"key": "value"}
	WriteJSON(w, http.StatusOK, data)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp["key"] != "value" {
		t.Errorf("expected key=value, got %v", resp)
	}
}

func TestWriteAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAccepted(w, "exec-123", "/v1/executions/")

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp["execution_id"] != "exec-123" {
		t.Errorf("expected execution_id exec-123, got %v", resp["execution_id"])
	}
	if resp["status"] != "PENDING" {
		t.Errorf("expected status PENDING, got %v", resp["status"])
	}
	if resp["status_href"] != "/v1/executions/exec-123" {
		t.Errorf("unexpected status_href %v", resp["status_href"])
	}
}

func TestCreateDefinitionValidate(t *testing.T) {
	valid := CreateDefinitionRequest{
		Name:         "invoice-approval",
		WorkflowType: "INVOICE",
		Steps: []core.StepSpec{
			{Name: "check", Type: core.StepCondition},
			{Name: "approve", Type: core.StepApproval},
		},
	}
	if appErr := valid.validate(); appErr != nil {
		t.Fatalf("valid request rejected: %s", appErr.Message)
	}

	cases := []struct {
		name string
		mut  func(*CreateDefinitionRequest)
	}{
		{"missing name", func(r *CreateDefinitionRequest) { r.Name = "" }},
		{"missing workflow type", func(r *CreateDefinitionRequest) { r.WorkflowType = "" }},
		{"no steps", func(r *CreateDefinitionRequest) { r.Steps = nil }},
		{"unnamed step", func(r *CreateDefinitionRequest) { r.Steps[0].Name = "" }},
		{"duplicate step name", func(r *CreateDefinitionRequest) { r.Steps[1].Name = "check" }},
		{"unknown step type", func(r *CreateDefinitionRequest) { r.Steps[0].Type = "TELEPORT" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			req.Steps = append([]core.StepSpec(nil), valid.Steps...)
			tc.mut(&req)
			appErr := req.validate()
			if appErr == nil {
				t.Fatal("expected validation error")
			}
			if appErr.Code != core.ErrBadRequest {
				t.Errorf("expected FT_BAD_REQUEST, got %s", appErr.Code)
			}
		})
	}
}

func TestUpsertObjectValidate(t *testing.T) {
	valid := UpsertObjectRequest{
		ObjectType:   "invoice",
		Attributes:   json.RawMessage(`{"customer": "acme"}`),
		CurrencyCode: "USD",
		Status:       "draft",
	}
	if appErr := valid.validate(); appErr != nil {
		t.Fatalf("valid request rejected: %s", appErr.Message)
	}

	cases := []struct {
		name string
		mut  func(*UpsertObjectRequest)
	}{
		{"missing object type", func(r *UpsertObjectRequest) { r.ObjectType = "" }},
		{"malformed attributes", func(r *UpsertObjectRequest) { r.Attributes = json.RawMessage(`{"customer":`) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mut(&req)
			appErr := req.validate()
			if appErr == nil {
				t.Fatal("expected validation error")
			}
			if appErr.Code != core.ErrBadRequest {
				t.Errorf("expected FT_BAD_REQUEST, got %s", appErr.Code)
			}
		})
	}
}

func TestCreateDefinitionDefaults(t *testing.T) {
	var req CreateDefinitionRequest
	if err := json.Unmarshal([]byte(`{
		"name": "invoice-approval",
		"workflow_type": "INVOICE",
		"steps": [{"name": "post", "type": "DATA_UPDATE"}]
	}`), &req); err != nil {
		t.Fatalf("failed to decode request: %s", err)
	}
	if appErr := req.validate(); appErr != nil {
		t.Fatalf("valid request rejected: %s", appErr.Message)
	}

	def := req.toDefinition()
	if def.Version != "1.0" {
		t.Errorf("expected default version 1.0, got %q", def.Version)
	}
	if def.TriggerType != core.TriggerManual {
		t.Errorf("expected MANUAL trigger, got %q", def.TriggerType)
	}
	if def.RetryAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", def.RetryAttempts)
	}
	if !def.IsActive {
		t.Error("expected new definitions to be active")
	}

	req.RetryAttempts = 5
	if got := req.toDefinition().RetryAttempts; got != 5 {
		t.Errorf("explicit retry attempts overridden: got %d", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
	encoded := encodeCursor(ts)
	if encoded == "" {
		t.Fatal("expected non-empty cursor")
	}

	decoded, err := decodeCursor(encoded)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	if !decoded.Equal(ts) {
		t.Errorf("expected %s, got %s", ts, decoded)
	}

	if encodeCursor(time.Time{}) != "" {
		t.Error("zero time should encode to empty cursor")
	}
	if _, err := decodeCursor("not base64!!"); err == nil {
		t.Error("expected error for garbage cursor")
	}
	if parseCursor("") != nil {
		t.Error("empty cursor should parse to nil")
	}
}

func TestParseLimit(t *testing.T) {
	if got := parseLimit("", 50, 500); got != 50 {
		t.Errorf("empty: expected 50, got %d", got)
	}
	if got := parseLimit("25", 50, 500); got != 25 {
		t.Errorf("25: expected 25, got %d", got)
	}
	if got := parseLimit("9999", 50, 500); got != 500 {
		t.Errorf("9999: expected cap 500, got %d", got)
	}
	if got := parseLimit("bogus", 50, 500); got != 50 {
		t.Errorf("bogus: expected 50, got %d", got)
	}
	if got := parseLimit("-3", 50, 500); got != 50 {
		t.Errorf("-3: expected 50, got %d", got)
	}
}

func TestSplitCSV(t *testing.T) {
	if got := splitCSV(""); got != nil {
		t.Errorf("empty: expected nil, got %v", got)
	}
	got := splitCSV("CREATE, UPDATE ,,DELETE")
	want := []string{"CREATE", "UPDATE", "DELETE"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}
