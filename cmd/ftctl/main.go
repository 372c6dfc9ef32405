package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL  string
	output  string
	actorID string
)

var rootCmd = &cobra.Command{
	Use:   "ftctl",
	Short: "Flowtrail CLI - workflow engine and audit trail command line tool",
	Long:  `ftctl is a command line interface for the Flowtrail workflow engine and audit trail.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", "http://localhost:8080", "Flowtrail API URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "Actor ID sent as X-Actor-ID")
}
