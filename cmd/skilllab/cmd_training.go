package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var trainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Inspect training models and the built dataset",
}

var trainingListModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List models available on the structure collaborator",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		names, err := a.llmClient().ListModels(context.Background())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No models installed.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var trainingDatasetInfoCmd = &cobra.Command{
	Use:   "dataset-info",
	Short: "Summarize the built training dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		datasetDir := a.cfg.Paths.DatasetDir()
		for _, subset := range []string{"train", "validation"} {
			count, err := countIndexLines(filepath.Join(datasetDir, subset+"_index.txt"))
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %d samples\n", subset, count)
		}
		fmt.Printf("\nTask: %s  Split: %.2f  Seed: %d\n",
			a.cfg.Dataset.TaskName, a.cfg.Dataset.TrainValSplit, a.cfg.Dataset.Seed)
		return nil
	},
}

var trainingWebCmd = &cobra.Command{
	Use:   "web",
	Short: "Interactive training UI (not bundled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("No web UI is bundled with this build.")
		fmt.Println("Use `skilllab training dataset-info` and `skilllab run train` instead.")
		return nil
	},
}

func countIndexLines(indexPath string) (int, error) {
	f, err := os.Open(indexPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() != "" {
			count++
		}
	}
	return count, scanner.Err()
}

func init() {
	trainingCmd.AddCommand(trainingListModelsCmd)
	trainingCmd.AddCommand(trainingDatasetInfoCmd)
	trainingCmd.AddCommand(trainingWebCmd)
}
