package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reviewIssueFilter string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and manage the human review queue",
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show review queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.review.GetDashboardStats()
		if err != nil {
			return err
		}

		fmt.Printf("Documents: %d\n", stats.TotalDocuments)
		fmt.Printf("Flagged:   %d\n", stats.FlaggedCount)
		fmt.Printf("Reviewed:  %d\n", stats.ReviewedCount)
		if len(stats.IssueHistogram) > 0 {
			fmt.Println("\nOpen issues by type:")
			for issueType, count := range stats.IssueHistogram {
				fmt.Printf("  %-24s %d\n", issueType, count)
			}
		}
		return nil
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		queue, err := a.workflow().ListQueue(reviewIssueFilter)
		if err != nil {
			return err
		}
		if len(queue) == 0 {
			fmt.Println("Review queue is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DOC ID\tSTATUS\tREVIEW\tOCR%\tJSON%\tCORRECTIONS")
		for _, doc := range queue {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.1f\t%d\n",
				doc.ID, doc.Status, doc.ReviewStatus,
				doc.OCRConfidence, doc.JSONConfidence, doc.CorrectionCount)
		}
		return w.Flush()
	},
}

var reviewSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the metrics store, review store, and filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		rec := a.reconciler()
		imported, err := rec.ImportFromFilesystem(
			a.cfg.Paths.ValidatedJSONDir(), a.cfg.Paths.OCRResultsDir())
		if err != nil {
			return err
		}
		synced, err := rec.Sync()
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d of %d scanned artifacts.\n", imported.Imported, imported.Scanned)
		fmt.Printf("Pushed %d documents, copied %d issues, mirrored %d verdicts.\n",
			synced.PushedToReview, synced.IssuesCopied, synced.VerdictsMirrored)
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve [doc-id]",
	Short: "Approve a document, optionally correcting fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		edits, err := collectEdits(cmd)
		if err != nil {
			return err
		}
		if err := a.workflow().Approve(args[0], reviewerName, edits); err != nil {
			return err
		}
		fmt.Printf("Approved %s.\n", args[0])
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject [doc-id]",
	Short: "Reject a document with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.workflow().Reject(args[0], reviewerName, rejectReason); err != nil {
			return err
		}
		fmt.Printf("Rejected %s.\n", args[0])
		return nil
	},
}

var reviewRecycleCmd = &cobra.Command{
	Use:   "recycle [doc-id]",
	Short: "Append an approved document to the training split",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.workflow().Recycle(args[0]); err != nil {
			return err
		}
		fmt.Printf("Recycled %s to training.\n", args[0])
		return nil
	},
}

var reviewWebCmd = &cobra.Command{
	Use:   "web",
	Short: "Interactive review UI (not bundled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("No web UI is bundled with this build.")
		fmt.Println("Use `skilllab review list`, `approve`, `reject`, and `recycle` instead.")
		return nil
	},
}

var (
	reviewerName string
	rejectReason string
	editPairs    []string
)

func collectEdits(cmd *cobra.Command) (map[string]string, error) {
	if len(editPairs) == 0 {
		return nil, nil
	}
	edits := map[string]string{}
	for _, pair := range editPairs {
		field, value, ok := splitPair(pair)
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected field=value", pair)
		}
		edits[field] = value
	}
	return edits, nil
}

func splitPair(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewIssueFilter, "issue", "All", "filter by issue type")
	reviewApproveCmd.Flags().StringVar(&reviewerName, "reviewer", "", "reviewer name recorded with the verdict")
	reviewApproveCmd.Flags().StringArrayVar(&editPairs, "set", nil, "field correction as field=value (repeatable)")
	reviewRejectCmd.Flags().StringVar(&reviewerName, "reviewer", "", "reviewer name recorded with the verdict")
	reviewRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason (required)")

	reviewCmd.AddCommand(reviewStatusCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewSyncCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewRecycleCmd)
	reviewCmd.AddCommand(reviewWebCmd)
}
