package core

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
	ExecutionPaused    ExecutionStatus = "PAUSED"
)

type StepStatus string

const (
	StepPending         StepStatus = "PENDING"
	StepRunning         StepStatus = "RUNNING"
	StepCompleted       StepStatus = "COMPLETED"
	StepFailed          StepStatus = "FAILED"
	StepSkipped         StepStatus = "SKIPPED"
	StepWaitingApproval StepStatus = "WAITING_APPROVAL"
	StepApproved        StepStatus = "APPROVED"
	StepRejected        StepStatus = "REJECTED"
)

// DefaultRetryAttempts is the definition-level retry budget applied
// when a definition does not set its own.
const DefaultRetryAttempts = 3

type StepType string

const (
	StepApproval    StepType = "APPROVAL"
	StepNotify      StepType = "NOTIFICATION"
	StepCalculation StepType = "CALCULATION"
	StepDataUpdate  StepType = "DATA_UPDATE"
	StepExternalAPI StepType = "EXTERNAL_API"
	StepCondition   StepType = "CONDITION"
	StepLoop        StepType = "LOOP"
	StepWait        StepType = "WAIT"
	StepHumanTask   StepType = "HUMAN_TASK"
	StepScript      StepType = "SCRIPT"
	StepEmail       StepType = "EMAIL"
	StepReport      StepType = "REPORT"
	StepIntegration StepType = "INTEGRATION"
)

// StepTypes lists every dispatchable step type. Definitions referencing
// anything else are rejected at start time.
var StepTypes = []StepType{
	StepApproval, StepNotify, StepCalculation, StepDataUpdate,
	StepExternalAPI, StepCondition, StepLoop, StepWait, StepHumanTask,
	StepScript, StepEmail, StepReport, StepIntegration,
}

func ValidStepType(t StepType) bool {
	for _, s := range StepTypes {
		if s == t {
			return true
		}
	}
	return false
}

type TriggerType string

const (
	TriggerManual      TriggerType = "MANUAL"
	TriggerEvent       TriggerType = "EVENT"
	TriggerScheduled   TriggerType = "SCHEDULED"
	TriggerAPI         TriggerType = "API"
	TriggerConditional TriggerType = "CONDITIONAL"
)

type WorkflowType string

const (
	WorkflowInvoiceApproval     WorkflowType = "INVOICE_APPROVAL"
	WorkflowBillApproval        WorkflowType = "BILL_APPROVAL"
	WorkflowPaymentApproval     WorkflowType = "PAYMENT_APPROVAL"
	WorkflowJournalApproval     WorkflowType = "JOURNAL_APPROVAL"
	WorkflowPeriodClose         WorkflowType = "PERIOD_CLOSE"
	WorkflowReconciliation      WorkflowType = "RECONCILIATION"
	WorkflowRecurringBilling    WorkflowType = "RECURRING_BILLING"
	WorkflowPaymentReminder     WorkflowType = "PAYMENT_REMINDER"
	WorkflowVendorOnboarding    WorkflowType = "VENDOR_ONBOARDING"
	WorkflowCustomerCreditCheck WorkflowType = "CUSTOMER_CREDIT_CHECK"
	WorkflowExpenseApproval     WorkflowType = "EXPENSE_APPROVAL"
	WorkflowBudgetApproval      WorkflowType = "BUDGET_APPROVAL"
	WorkflowComplianceCheck     WorkflowType = "COMPLIANCE_CHECK"
	WorkflowDataBackup          WorkflowType = "DATA_BACKUP"
	WorkflowReportGeneration    WorkflowType = "REPORT_GENERATION"
	WorkflowCustom              WorkflowType = "CUSTOM"
)

// StepSpec is one entry in a definition's steps_definition list.
type StepSpec struct {
	Name       string          `json:"name"`
	Type       StepType        `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
	AssignedTo string          `json:"assigned_to,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

type WorkflowDefinition struct {
	DefinitionID            string          `json:"definition_id"`
	Name                    string          `json:"name"`
	Description             string          `json:"description,omitempty"`
	WorkflowType            WorkflowType    `json:"workflow_type"`
	Version                 string          `json:"version"`
	TriggerType             TriggerType     `json:"trigger_type"`
	TriggerConditions       json.RawMessage `json:"trigger_conditions,omitempty"`
	StepsDefinition         []StepSpec      `json:"steps_definition"`
	Variables               json.RawMessage `json:"variables,omitempty"`
	TimeoutMinutes          int             `json:"timeout_minutes"`
	MaxConcurrentExecutions int             `json:"max_concurrent_executions"`
	RetryAttempts           int             `json:"retry_attempts"`
	RequiresApproval        bool            `json:"requires_approval"`
	ApprovalThreshold       *float64        `json:"approval_threshold,omitempty"`
	NotificationSettings    json.RawMessage `json:"notification_settings,omitempty"`
	IsActive                bool            `json:"is_active"`
	IsTemplate              bool            `json:"is_template"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// LogEntry is one timestamped line of an execution's log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Actor     string    `json:"actor"`
}

type WorkflowExecution struct {
	ExecutionID       string          `json:"execution_id"`
	DefinitionID      string          `json:"definition_id"`
	TriggeredBy       string          `json:"triggered_by,omitempty"`
	TriggerEvent      string          `json:"trigger_event,omitempty"`
	TriggerData       json.RawMessage `json:"trigger_data,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	RequestHash       string          `json:"request_hash,omitempty"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	InputData         json.RawMessage `json:"input_data,omitempty"`
	OutputData        json.RawMessage `json:"output_data,omitempty"`
	ExecutionLog      []LogEntry      `json:"execution_log,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	TotalSteps        int             `json:"total_steps"`
	CompletedSteps    int             `json:"completed_steps"`
	CurrentStep       int             `json:"current_step"`
	RelatedObjectType string          `json:"related_object_type,omitempty"`
	RelatedObjectID   string          `json:"related_object_id,omitempty"`
	FinancialImpact   *float64        `json:"financial_impact,omitempty"`
	CurrencyCode      string          `json:"currency_code,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsTerminal returns true if the execution is in a final state.
func (e *WorkflowExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

type WorkflowStep struct {
	StepID           string          `json:"step_id"`
	ExecutionID      string          `json:"execution_id"`
	StepName         string          `json:"step_name"`
	StepType         StepType        `json:"step_type"`
	StepOrder        int             `json:"step_order"`
	StepConfig       json.RawMessage `json:"step_config,omitempty"`
	Status           StepStatus      `json:"status"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ResumeAt         *time.Time      `json:"resume_at,omitempty"`
	InputData        json.RawMessage `json:"input_data,omitempty"`
	OutputData       json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	AssignedTo       string          `json:"assigned_to,omitempty"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ApprovalComments string          `json:"approval_comments,omitempty"`
	ApprovalDeadline *time.Time      `json:"approval_deadline,omitempty"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
}

// IsRetryable returns true if the step may run again after a failure.
func (s *WorkflowStep) IsRetryable() bool {
	return s.RetryCount <= s.MaxRetries
}

// CountsTowardProgress reports whether the step's state contributes to
// completed_steps. Approved and skipped steps advance the execution the
// same way completed ones do.
func (s StepStatus) CountsTowardProgress() bool {
	switch s {
	case StepCompleted, StepApproved, StepSkipped:
		return true
	}
	return false
}

type BusinessObject struct {
	ObjectID        string          `json:"object_id"`
	ObjectType      string          `json:"object_type"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Attributes      json.RawMessage `json:"attributes,omitempty"`
	Amount          *float64        `json:"amount,omitempty"`
	CurrencyCode    string          `json:"currency_code,omitempty"`
	Status          string          `json:"status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
