// Package main provides the bidflow binary entry point.
// Bidflow orchestrates government procurement workflows: phase
// transitions, work item scheduling, and retry handling.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/procurehq/bidflow/pkg/bidflow"
)

const (
	Version = "0.1.0"
	appName = "bidflow"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Procurement workflow orchestration engine",
		Long: `Bidflow drives RFP responses from portal discovery through document
analysis, proposal generation, submission and award monitoring. State
lives in a phase machine per workflow; work items are scheduled against
registered executors with retry and dead letter handling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func serve() error {
	bidflow.SetupLogger()
	if err := bidflow.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
		return err
	}
	return nil
}
