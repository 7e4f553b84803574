package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsType  string
	metricsSince time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Inspect pipeline telemetry and resource usage",
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		runs, err := a.metrics.ListPipelineRuns(10)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No pipeline runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tSTEPS\tSTATUS\tDOCS\tSTARTED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s..%s\t%s\t%d\t%s\n",
				run.ID, run.StartStep, run.EndStep, run.Status,
				run.DocumentCount, run.StartTime.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var monitorMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List recorded metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		until := time.Now().UTC()
		since := until.Add(-metricsSince)
		metrics, err := a.metrics.ListMetrics(metricsType, since, until)
		if err != nil {
			return err
		}
		if len(metrics) == 0 {
			fmt.Println("No metrics in the selected window.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tTYPE\tNAME\tVALUE")
		for _, m := range metrics {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\n",
				m.Timestamp.Format(time.RFC3339), m.Type, m.Name, m.Value)
		}
		return w.Flush()
	},
}

var monitorDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show an aggregate view of documents and resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.metrics.GetDashboardStats()
		if err != nil {
			return err
		}

		fmt.Printf("Documents: %d (flagged %d, reviewed %d)\n",
			stats.TotalDocuments, stats.FlaggedCount, stats.ReviewedCount)
		if len(stats.StatusCounts) > 0 {
			fmt.Println("\nBy status:")
			for status, count := range stats.StatusCounts {
				fmt.Printf("  %-24s %d\n", status, count)
			}
		}

		until := time.Now().UTC()
		samples, err := a.metrics.ListResourceSamples(until.Add(-time.Hour), until)
		if err != nil {
			return err
		}
		if len(samples) > 0 {
			last := samples[len(samples)-1]
			fmt.Printf("\nLast resource sample (%s): cpu %.1f%%, mem %.0f MB\n",
				last.Activity, last.CPUPercent, last.MemoryMB)
		}
		return nil
	},
}

func init() {
	monitorMetricsCmd.Flags().StringVar(&metricsType, "type", "", "filter by metric type")
	monitorMetricsCmd.Flags().DurationVar(&metricsSince, "since", 24*time.Hour, "look-back window")

	monitorCmd.AddCommand(monitorStatusCmd)
	monitorCmd.AddCommand(monitorMetricsCmd)
	monitorCmd.AddCommand(monitorDashboardCmd)
}
