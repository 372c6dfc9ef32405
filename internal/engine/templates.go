package engine

import (
	"github.com/flowtrail/flowtrail/internal/core"
)

// Templates returns the predefined workflow definitions. They are
// created as templates; operators activate a copy per tenant need.
func Templates() ([]core.WorkflowDefinition, error) {
	builders := []*Builder{
		invoiceApprovalTemplate(),
		paymentApprovalTemplate(),
		periodCloseTemplate(),
		recurringBillingTemplate(),
	}
	defs := make([]core.WorkflowDefinition, 0, len(builders))
	for _, b := range builders {
		def, err := b.Build()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func invoiceApprovalTemplate() *Builder {
	return NewBuilder("invoice-approval", core.WorkflowInvoiceApproval).
		Description("Route invoices above the threshold through manager approval, then post and notify.").
		Template().
		ApprovalThreshold(1000).
		Retries(3).
		Step("validate_invoice", core.StepCalculation, map[string]any{
			"builtin":         "object_amount",
			"output_variable": "invoice_amount",
		}).
		AssignedStep("manager_approval", core.StepApproval, "manager", map[string]any{
			"deadline_hours": 48,
		}).
		Step("post_invoice", core.StepDataUpdate, map[string]any{
			"updates": map[string]any{"posted": true},
			"status":  "posted",
		}).
		Step("notify_requester", core.StepNotify, map[string]any{
			"subject": "Invoice approved",
			"message": "Invoice for {{invoice_amount}} was approved and posted.",
		})
}

func paymentApprovalTemplate() *Builder {
	return NewBuilder("payment-approval", core.WorkflowPaymentApproval).
		Description("Two-stage payment release with a compliance gate on large amounts.").
		Template().
		ApprovalThreshold(5000).
		Retries(3).
		Step("check_amount", core.StepCondition, map[string]any{
			"condition":  "amount > 50000",
			"true_steps": []string{},
			"false_steps": []string{
				"cfo_approval",
			},
		}).
		AssignedStep("cfo_approval", core.StepApproval, "cfo", map[string]any{
			"deadline_hours": 24,
		}).
		AssignedStep("treasury_release", core.StepHumanTask, "treasury", map[string]any{
			"instructions":   "Release the payment in the banking portal and attach the confirmation.",
			"deadline_hours": 24,
		}).
		Step("mark_paid", core.StepDataUpdate, map[string]any{
			"updates": map[string]any{"paid": true},
			"status":  "paid",
		}).
		Step("send_remittance", core.StepEmail, map[string]any{
			"subject": "Payment released",
			"body":    "Payment of {{amount}} has been released.",
		})
}

func periodCloseTemplate() *Builder {
	return NewBuilder("period-close", core.WorkflowPeriodClose).
		Description("Month-end close: reconcile, wait for the cutoff, report and lock the period.").
		Template().
		Retries(2).
		AssignedStep("reconcile_accounts", core.StepHumanTask, "controller", map[string]any{
			"instructions": "Complete bank and subledger reconciliations for the period.",
		}).
		Step("cutoff_wait", core.StepWait, map[string]any{
			"duration_minutes": 60,
		}).
		Step("close_report", core.StepReport, map[string]any{
			"report_type": "audit_summary",
			"period_days": 31,
		}).
		Step("lock_period", core.StepDataUpdate, map[string]any{
			"updates": map[string]any{"locked": true},
			"status":  "closed",
		}).
		Step("announce_close", core.StepNotify, map[string]any{
			"subject": "Period closed",
			"message": "The accounting period has been closed and locked.",
		})
}

func recurringBillingTemplate() *Builder {
	return NewBuilder("recurring-billing", core.WorkflowRecurringBilling).
		Description("Generate the recurring charge, sync it out and email the customer.").
		Template().
		Trigger(core.TriggerScheduled).
		Retries(5).
		Step("compute_charge", core.StepScript, map[string]any{
			"script": "subtotal = quantity * unit_price\ntax = subtotal * tax_rate\ntotal = subtotal + tax",
		}).
		Step("create_invoice", core.StepDataUpdate, map[string]any{
			"updates": map[string]any{"billed": true},
			"status":  "billed",
		}).
		Step("sync_billing", core.StepIntegration, map[string]any{
			"system":    "ECOMMERCE",
			"operation": "push_invoice",
		}).
		Step("email_customer", core.StepEmail, map[string]any{
			"subject": "Your invoice is ready",
			"body":    "Your recurring charge of {{total}} has been billed.",
		})
}
