package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/engine"
)

type DefinitionRow struct {
	DefinitionID string   `json:"definition_id"`
	Name         string   `json:"name"`
	WorkflowType string   `json:"workflow_type"`
	Version      string   `json:"version"`
	TriggerType  string   `json:"trigger_type"`
	IsActive     bool     `json:"is_active"`
	IsTemplate   bool     `json:"is_template"`
	Steps        []any    `json:"steps"`
	Threshold    *float64 `json:"approval_threshold"`
	CreatedAt    string   `json:"created_at"`
}

type DefinitionListResponse struct {
	Definitions []DefinitionRow `json:"definitions"`
	NextCursor  string          `json:"next_cursor"`
}

var (
	defListType   string
	defListActive bool
	defCreateFile string
)

var definitionCmd = &cobra.Command{
	Use:     "definition",
	Aliases: []string{"def"},
	Short:   "Workflow definition commands",
}

var defListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow definitions",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		path := "/v1/definitions?"
		if defListType != "" {
			path += "workflow_type=" + defListType + "&"
		}
		if defListActive {
			path += "active=true&"
		}

		var resp DefinitionListResponse
		if err := client.Get(path, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Definitions)
	},
}

var defGetCmd = &cobra.Command{
	Use:   "get <definition-id>",
	Short: "Get definition details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var def map[string]interface{}
		if err := client.Get("/v1/definitions/"+args[0], &def); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(def)
	},
}

var defCreateCmd = &cobra.Command{
	Use:   "create -f <definition.json>",
	Short: "Create a workflow definition from a JSON file",
	Run: func(cmd *cobra.Command, args []string) {
		if defCreateFile == "" {
			fmt.Fprintln(os.Stderr, "Error: -f <file> is required")
			os.Exit(1)
		}
		b, err := os.ReadFile(defCreateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(b, &body); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
			os.Exit(1)
		}

		client := NewClient(apiURL)
		var def DefinitionRow
		if err := client.Post("/v1/definitions", body, &def); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Definition created.\n")
		fmt.Printf("Definition ID: %s\n", def.DefinitionID)
	},
}

var defSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the predefined workflow templates",
	Run: func(cmd *cobra.Command, args []string) {
		defs, err := engine.Templates()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client := NewClient(apiURL)
		for _, def := range defs {
			var created DefinitionRow
			err := client.Post("/v1/definitions", templateBody(def), &created)
			if err != nil {
				if strings.HasPrefix(err.Error(), "FT_CONFLICT_EXISTS") {
					fmt.Printf("%s %s already installed, skipping\n", def.Name, def.Version)
					continue
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Installed %s %s (%s)\n", created.Name, created.Version, created.DefinitionID)
		}
	},
}

// templateBody reshapes a built definition into the create request body.
func templateBody(def core.WorkflowDefinition) map[string]interface{} {
	body := map[string]interface{}{
		"name":                      def.Name,
		"description":               def.Description,
		"workflow_type":             string(def.WorkflowType),
		"version":                   def.Version,
		"trigger_type":              string(def.TriggerType),
		"steps":                     def.StepsDefinition,
		"timeout_minutes":           def.TimeoutMinutes,
		"max_concurrent_executions": def.MaxConcurrentExecutions,
		"retry_attempts":            def.RetryAttempts,
		"requires_approval":         def.RequiresApproval,
		"is_template":               def.IsTemplate,
	}
	if def.ApprovalThreshold != nil {
		body["approval_threshold"] = *def.ApprovalThreshold
	}
	if def.Variables != nil {
		body["variables"] = json.RawMessage(def.Variables)
	}
	return body
}

var defDeactivateCmd = &cobra.Command{
	Use:   "deactivate <definition-id>",
	Short: "Deactivate a workflow definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var def DefinitionRow
		if err := client.Delete("/v1/definitions/"+args[0], &def); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Definition %s deactivated.\n", def.DefinitionID)
	},
}

func init() {
	defListCmd.Flags().StringVar(&defListType, "workflow-type", "", "Filter by workflow type")
	defListCmd.Flags().BoolVar(&defListActive, "active", false, "Only active definitions")
	defCreateCmd.Flags().StringVarP(&defCreateFile, "file", "f", "", "JSON file with the definition")

	definitionCmd.AddCommand(defListCmd, defGetCmd, defCreateCmd, defSeedCmd, defDeactivateCmd)
	rootCmd.AddCommand(definitionCmd)
}
