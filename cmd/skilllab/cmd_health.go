package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the external collaborators",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the OCR service and the structure collaborator",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		failures := 0

		if err := a.ocrClient().Health(ctx); err != nil {
			failures++
			fmt.Printf("OCR service:        UNHEALTHY (%v)\n", err)
		} else {
			fmt.Println("OCR service:        healthy")
		}

		if err := a.llmClient().ProbeWithRetry(ctx); err != nil {
			failures++
			fmt.Printf("Structure (Ollama): UNHEALTHY (%v)\n", err)
		} else {
			fmt.Println("Structure (Ollama): healthy")
		}

		if failures > 0 {
			return fmt.Errorf("%d collaborator(s) unhealthy", failures)
		}
		return nil
	},
}

func init() {
	healthCmd.AddCommand(healthCheckCmd)
}
