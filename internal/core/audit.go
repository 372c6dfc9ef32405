package core

import (
	"encoding/json"
	"time"
)

type ActionType string

const (
	ActionCreate     ActionType = "CREATE"
	ActionUpdate     ActionType = "UPDATE"
	ActionDelete     ActionType = "DELETE"
	ActionApprove    ActionType = "APPROVE"
	ActionReject     ActionType = "REJECT"
	ActionPost       ActionType = "POST"
	ActionReverse    ActionType = "REVERSE"
	ActionSend       ActionType = "SEND"
	ActionReceive    ActionType = "RECEIVE"
	ActionReconcile  ActionType = "RECONCILE"
	ActionClose      ActionType = "CLOSE"
	ActionReopen     ActionType = "REOPEN"
	ActionExport     ActionType = "EXPORT"
	ActionImport     ActionType = "IMPORT"
	ActionLogin      ActionType = "LOGIN"
	ActionLogout     ActionType = "LOGOUT"
	ActionView       ActionType = "VIEW"
	ActionDownload   ActionType = "DOWNLOAD"
	ActionPrint      ActionType = "PRINT"
	ActionEmail      ActionType = "EMAIL"
	ActionBackup     ActionType = "BACKUP"
	ActionRestore    ActionType = "RESTORE"
	ActionPurge      ActionType = "PURGE"
	ActionCalculate  ActionType = "CALCULATE"
	ActionSync       ActionType = "SYNC"
	ActionConfigure  ActionType = "CONFIGURE"
	ActionBulkUpdate ActionType = "BULK_UPDATE"
	ActionBulkDelete ActionType = "BULK_DELETE"
	ActionSystem     ActionType = "SYSTEM"
	ActionError      ActionType = "ERROR"
	ActionWarning    ActionType = "WARNING"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityNormal   Severity = "NORMAL"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Actor is the identity snapshot recorded with every audit event. The
// snapshot survives user renames and deletions.
type Actor struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// AuditEvent is an append-only record of one tracked action. Rows are
// never mutated after insert except the requires_review flip by
// compliance post-processing, and never deleted.
type AuditEvent struct {
	EventID           string          `json:"event_id"`
	ActionType        ActionType      `json:"action_type"`
	Severity          Severity        `json:"severity"`
	EventTimestamp    time.Time       `json:"event_timestamp"`
	Actor             Actor           `json:"actor"`
	SessionID         string          `json:"session_id,omitempty"`
	IPAddress         string          `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	ObjectType        string          `json:"object_type,omitempty"`
	ObjectID          string          `json:"object_id,omitempty"`
	ObjectRepr        string          `json:"object_repr,omitempty"`
	Description       string          `json:"description"`
	Details           json.RawMessage `json:"details,omitempty"`
	OldValues         json.RawMessage `json:"old_values,omitempty"`
	NewValues         json.RawMessage `json:"new_values,omitempty"`
	ChangedFields     []string        `json:"changed_fields,omitempty"`
	FinancialImpact   *float64        `json:"financial_impact,omitempty"`
	CurrencyCode      string          `json:"currency_code,omitempty"`
	BusinessProcess   string          `json:"business_process,omitempty"`
	WorkflowStep      string          `json:"workflow_step,omitempty"`
	ReferenceNumber   string          `json:"reference_number,omitempty"`
	ComplianceFlag    bool            `json:"compliance_flag"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	RequiresReview    bool            `json:"requires_review"`
	SourceSystem      string          `json:"source_system,omitempty"`
	ExternalReference string          `json:"external_reference,omitempty"`
	APIEndpoint       string          `json:"api_endpoint,omitempty"`
	IsProcessed       bool            `json:"is_processed"`
	ProcessingError   string          `json:"processing_error,omitempty"`
}

// Finding is one advisory suspicious-activity result.
type Finding struct {
	Type        string   `json:"type"`
	EventID     string   `json:"event_id,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	ActorID     string   `json:"actor_id,omitempty"`
	IPAddress   string   `json:"ip_address,omitempty"`
	Count       int      `json:"count,omitempty"`
}

const (
	FindingAfterHoursTransaction = "AFTER_HOURS_TRANSACTION"
	FindingMultipleFailedLogins  = "MULTIPLE_FAILED_LOGINS"
	FindingLargeBulkOperation    = "LARGE_BULK_OPERATION"
)
