package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type AuditRow struct {
	EventID         string   `json:"event_id"`
	ActionType      string   `json:"action_type"`
	ActorID         string   `json:"actor_id"`
	ObjectType      string   `json:"object_type"`
	ObjectID        string   `json:"object_id"`
	Description     string   `json:"description"`
	FinancialImpact *float64 `json:"financial_impact,omitempty"`
	RiskLevel       string   `json:"risk_level"`
	ComplianceFlag  bool     `json:"compliance_flag"`
	EventTimestamp  string   `json:"event_timestamp"`
}

type AuditListResponse struct {
	Events     []AuditRow `json:"events"`
	NextCursor string     `json:"next_cursor"`
}

type FindingRow struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	ActorID     string `json:"actor_id,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	Count       int    `json:"count,omitempty"`
}

var (
	auditActor      string
	auditObjectType string
	auditObjectID   string
	auditAction     string
	auditRisk       string
	auditFrom       string
	auditTo         string
	auditCompliance bool
	auditMinAmount  string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail commands",
}

var auditEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List audit events",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		q := url.Values{}
		set := func(k, v string) {
			if v != "" {
				q.Set(k, v)
			}
		}
		set("actor_id", auditActor)
		set("object_type", auditObjectType)
		set("object_id", auditObjectID)
		set("action_type", auditAction)
		set("risk_level", auditRisk)
		set("from", auditFrom)
		set("to", auditTo)
		set("min_amount", auditMinAmount)
		if auditCompliance {
			q.Set("compliance", "true")
		}

		var resp AuditListResponse
		if err := client.Get("/v1/audit/events?"+q.Encode(), &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Events)
	},
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate audit report for a period",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		q := url.Values{}
		if auditFrom != "" {
			q.Set("from", auditFrom)
		}
		if auditTo != "" {
			q.Set("to", auditTo)
		}

		var resp map[string]interface{}
		if err := client.Get("/v1/audit/summary?"+q.Encode(), &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(resp)
	},
}

var auditSuspiciousCmd = &cobra.Command{
	Use:   "suspicious",
	Short: "Scan for suspicious activity",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		q := url.Values{}
		if auditFrom != "" {
			q.Set("from", auditFrom)
		}
		if auditTo != "" {
			q.Set("to", auditTo)
		}

		var resp struct {
			Findings []FindingRow `json:"findings"`
		}
		if err := client.Get("/v1/audit/suspicious?"+q.Encode(), &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Findings)
	},
}

func init() {
	auditEventsCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor id")
	auditEventsCmd.Flags().StringVar(&auditObjectType, "object-type", "", "Filter by object type")
	auditEventsCmd.Flags().StringVar(&auditObjectID, "object-id", "", "Filter by object id")
	auditEventsCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action types (comma separated)")
	auditEventsCmd.Flags().StringVar(&auditRisk, "risk", "", "Filter by risk levels (comma separated)")
	auditEventsCmd.Flags().BoolVar(&auditCompliance, "compliance", false, "Compliance-flagged events only")
	auditEventsCmd.Flags().StringVar(&auditMinAmount, "min-amount", "", "Minimum financial impact")
	for _, c := range []*cobra.Command{auditEventsCmd, auditSummaryCmd, auditSuspiciousCmd} {
		c.Flags().StringVar(&auditFrom, "from", "", "Window start (RFC3339)")
		c.Flags().StringVar(&auditTo, "to", "", "Window end (RFC3339)")
	}

	auditCmd.AddCommand(auditEventsCmd, auditSummaryCmd, auditSuspiciousCmd)
	rootCmd.AddCommand(auditCmd)
}
