package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type ExecutionRow struct {
	ExecutionID    string `json:"execution_id"`
	DefinitionID   string `json:"definition_id"`
	Status         string `json:"status"`
	TriggeredBy    string `json:"triggered_by"`
	CurrentStep    int    `json:"current_step"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ExecutionListResponse struct {
	Executions []ExecutionRow `json:"executions"`
	NextCursor string         `json:"next_cursor"`
}

type ExecutionRef struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_href"`
}

type StepRow struct {
	StepID     string `json:"step_id"`
	StepName   string `json:"step_name"`
	StepType   string `json:"step_type"`
	StepOrder  int    `json:"step_order"`
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

type StepListResponse struct {
	Steps []StepRow `json:"steps"`
}

var (
	execStartInput string
	execStartBy    string
	execListDef    string
	execListStatus string
	execReason     string
	approveBy      string
	approveNote    string
)

var executionCmd = &cobra.Command{
	Use:     "execution",
	Aliases: []string{"exec"},
	Short:   "Workflow execution commands",
}

var execStartCmd = &cobra.Command{
	Use:   "start <definition-id>",
	Short: "Start a workflow execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]interface{}{}
		if execStartInput != "" {
			b, err := os.ReadFile(execStartInput)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			var input map[string]interface{}
			if err := json.Unmarshal(b, &input); err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
				os.Exit(1)
			}
			body["input_data"] = input
		}
		if execStartBy != "" {
			body["triggered_by"] = execStartBy
		}

		client := NewClient(apiURL)
		var resp ExecutionRef
		err := client.PostWithHeaders("/v1/definitions/"+args[0]+"/executions", body, &resp, map[string]string{
			"Idempotency-Key": uuid.New().String(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Execution started.\n")
		fmt.Printf("Execution ID: %s\n", resp.ExecutionID)
		fmt.Printf("Check status: ftctl execution get %s\n", resp.ExecutionID)
	},
}

var execListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow executions",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		path := "/v1/executions?"
		if execListDef != "" {
			path += "definition_id=" + execListDef + "&"
		}
		if execListStatus != "" {
			path += "status=" + execListStatus + "&"
		}

		var resp ExecutionListResponse
		if err := client.Get(path, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Executions)
	},
}

var execGetCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Get execution details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp ExecutionRow
		if err := client.Get("/v1/executions/"+args[0], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp)
	},
}

var execStepsCmd = &cobra.Command{
	Use:   "steps <execution-id>",
	Short: "List the steps of an execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp StepListResponse
		if err := client.Get("/v1/executions/"+args[0]+"/steps", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Steps)
	},
}

var execWatchCmd = &cobra.Command{
	Use:   "watch <execution-id>",
	Short: "Watch an execution until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		for {
			var resp ExecutionRow
			if err := client.Get("/v1/executions/"+args[0], &resp); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Execution %s: %s (%d/%d steps)\n",
				resp.ExecutionID[:8], resp.Status, resp.CompletedSteps, resp.TotalSteps)

			if resp.Status == "COMPLETED" || resp.Status == "FAILED" || resp.Status == "CANCELLED" {
				if resp.ErrorMessage != "" {
					fmt.Printf("Error: %s\n", resp.ErrorMessage)
				}
				break
			}

			time.Sleep(1 * time.Second)
		}
	},
}

var execCancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel an execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		body := map[string]string{}
		if execReason != "" {
			body["reason"] = execReason
		}
		var resp ExecutionRow
		if err := client.Post("/v1/executions/"+args[0]+":cancel", body, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Execution %s status: %s\n", args[0], resp.Status)
	},
}

var execPauseCmd = &cobra.Command{
	Use:   "pause <execution-id>",
	Short: "Pause a running execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp ExecutionRow
		if err := client.Post("/v1/executions/"+args[0]+":pause", nil, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Execution %s status: %s\n", args[0], resp.Status)
	},
}

var execResumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume a paused execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp ExecutionRow
		if err := client.Post("/v1/executions/"+args[0]+":resume", nil, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Execution %s status: %s\n", args[0], resp.Status)
	},
}

var stepApproveCmd = &cobra.Command{
	Use:   "approve <step-id>",
	Short: "Approve a waiting step",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resolveStep(args[0], ":approve")
	},
}

var stepRejectCmd = &cobra.Command{
	Use:   "reject <step-id>",
	Short: "Reject a waiting step",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resolveStep(args[0], ":reject")
	},
}

func resolveStep(stepID, action string) {
	if approveBy == "" {
		fmt.Fprintln(os.Stderr, "Error: --by is required")
		os.Exit(1)
	}
	client := NewClient(apiURL)

	body := map[string]string{"approved_by": approveBy}
	if approveNote != "" {
		body["comments"] = approveNote
	}
	var resp StepRow
	if err := client.Post("/v1/steps/"+stepID+action, body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Step %s status: %s\n", stepID, resp.Status)
}

func init() {
	execStartCmd.Flags().StringVarP(&execStartInput, "input", "f", "", "JSON file with execution input data")
	execStartCmd.Flags().StringVar(&execStartBy, "triggered-by", "", "User starting the execution")
	execListCmd.Flags().StringVar(&execListDef, "definition", "", "Filter by definition id")
	execListCmd.Flags().StringVar(&execListStatus, "status", "", "Filter by status")
	execCancelCmd.Flags().StringVar(&execReason, "reason", "", "Cancellation reason")
	for _, c := range []*cobra.Command{stepApproveCmd, stepRejectCmd} {
		c.Flags().StringVar(&approveBy, "by", "", "Approver id")
		c.Flags().StringVar(&approveNote, "comments", "", "Approval comments")
	}

	executionCmd.AddCommand(execStartCmd, execListCmd, execGetCmd, execStepsCmd,
		execWatchCmd, execCancelCmd, execPauseCmd, execResumeCmd)
	rootCmd.AddCommand(executionCmd)

	stepCmd := &cobra.Command{Use: "step", Short: "Step approval commands"}
	stepCmd.AddCommand(stepApproveCmd, stepRejectCmd)
	rootCmd.AddCommand(stepCmd)
}
