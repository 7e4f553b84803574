package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"skilllab/internal/pipeline"
	"skilllab/internal/steps"
)

var (
	runStartStep string
	runEndStep   string
	runLimit     int
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline]",
	Short: "Run a processing pipeline",
	Long: `Runs one of the named pipelines:

  pipeline   full chain: ocr -> json -> correction -> dataset
  extract    OCR only
  structure  json -> correction
  train      dataset build only

--start and --end slice the chosen pipeline by step name.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pipeline", "extract", "structure", "train"},
	RunE:      runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runStartStep, "start", "", "first step to run")
	runCmd.Flags().StringVar(&runEndStep, "end", "", "last step to run")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max documents to process (0 = all)")
}

// pipelineNames maps CLI pipeline arguments to engine registrations.
var pipelineNames = map[string]string{
	"pipeline":  "full",
	"full":      "full",
	"extract":   "extract",
	"structure": "structure",
	"train":     "train",
}

func runPipeline(cmd *cobra.Command, args []string) error {
	name, ok := pipelineNames[args[0]]
	if !ok {
		return fmt.Errorf("unknown pipeline %q", args[0])
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if runLimit > 0 {
		a.cfg.Pipeline.Limit = runLimit
	}
	start, end := sliceBounds(name, runStartStep, runEndStep,
		a.cfg.Pipeline.StartStep, a.cfg.Pipeline.EndStep)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sampler := a.sampler()
	if a.cfg.Monitoring.Enabled {
		go sampler.Run(ctx)
		sampler.SetActivity(name)
	}

	pctx := pipeline.NewContext(a.cfg)
	result, err := a.engine().Run(ctx, pctx, pipeline.RunOptions{
		Pipeline: name,
		Start:    start,
		End:      end,
	})
	if result != nil {
		printRunSummary(result, pctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nRun failed; see logs for details.\n")
		return err
	}
	return nil
}

// sliceBounds resolves the step slice for a run. Explicit flags always win.
// The configured start/end steps describe the full chain, so they only apply
// to the full pipeline; shorter pipelines run whole unless sliced explicitly.
func sliceBounds(name, flagStart, flagEnd, cfgStart, cfgEnd string) (string, string) {
	start, end := flagStart, flagEnd
	if name == "full" {
		if start == "" {
			start = cfgStart
		}
		if end == "" {
			end = cfgEnd
		}
	}
	return start, end
}

func printRunSummary(result *pipeline.Result, pctx *pipeline.Context) {
	fmt.Printf("Run %s finished: %s in %s\n\n", result.RunID, result.Status, result.Elapsed.Round(10e6))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tPROCESSED\tSUCCEEDED\tFAILED\tSKIPPED")
	for _, step := range result.Steps {
		summary, ok := pctx.StepResults[step].(steps.Summary)
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", step)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			step, summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	}
	w.Flush()

	if firsts := pctx.FirstErrorPerStep(); len(firsts) > 0 {
		fmt.Println("\nFirst error per step:")
		for _, e := range firsts {
			fmt.Printf("  %s: %s\n", e.Step, e.Message)
		}
	}
}
