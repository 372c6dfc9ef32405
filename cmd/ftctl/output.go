package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

func printResult(v interface{}) {
	if output == "json" {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []DefinitionRow:
		if len(data) == 0 {
			fmt.Println("No definitions found.")
			return
		}
		fmt.Fprintln(w, "DEFINITION ID\tNAME\tTYPE\tVERSION\tACTIVE\tSTEPS\tCREATED")
		for _, d := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
				short(d.DefinitionID), truncate(d.Name, 30), d.WorkflowType, d.Version, d.IsActive, len(d.Steps), d.CreatedAt)
		}
	case []ExecutionRow:
		if len(data) == 0 {
			fmt.Println("No executions found.")
			return
		}
		fmt.Fprintln(w, "EXECUTION ID\tSTATUS\tPROGRESS\tTRIGGERED BY\tCREATED")
		for _, e := range data {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
				short(e.ExecutionID), e.Status, e.CompletedSteps, e.TotalSteps, e.TriggeredBy, e.CreatedAt)
		}
	case ExecutionRow:
		fmt.Fprintf(w, "Execution ID:\t%s\n", data.ExecutionID)
		fmt.Fprintf(w, "Definition:\t%s\n", data.DefinitionID)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "Progress:\t%d/%d\n", data.CompletedSteps, data.TotalSteps)
		fmt.Fprintf(w, "Triggered by:\t%s\n", data.TriggeredBy)
		if data.ErrorMessage != "" {
			fmt.Fprintf(w, "Error:\t%s\n", data.ErrorMessage)
		}
	case []StepRow:
		if len(data) == 0 {
			fmt.Println("No steps found.")
			return
		}
		fmt.Fprintln(w, "STEP ID\tORDER\tNAME\tTYPE\tSTATUS\tASSIGNED\tRETRIES")
		for _, s := range data {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%d/%d\n",
				short(s.StepID), s.StepOrder, s.StepName, s.StepType, s.Status, s.AssignedTo, s.RetryCount, s.MaxRetries)
		}
	case []AuditRow:
		if len(data) == 0 {
			fmt.Println("No audit events found.")
			return
		}
		fmt.Fprintln(w, "EVENT ID\tACTION\tACTOR\tOBJECT\tRISK\tIMPACT\tTIMESTAMP")
		for _, e := range data {
			impact := ""
			if e.FinancialImpact != nil {
				impact = fmt.Sprintf("%.2f", *e.FinancialImpact)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\t%s\t%s\n",
				short(e.EventID), e.ActionType, e.ActorID, e.ObjectType, e.ObjectID, e.RiskLevel, impact, e.EventTimestamp)
		}
	case []FindingRow:
		if len(data) == 0 {
			fmt.Println("No suspicious activity found.")
			return
		}
		fmt.Fprintln(w, "TYPE\tSEVERITY\tACTOR\tDESCRIPTION")
		for _, f := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Type, f.Severity, f.ActorID, truncate(f.Description, 60))
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
