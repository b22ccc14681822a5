package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

func newRunCmd() *cobra.Command {
	var (
		source      string
		urls        []string
		maxArticles int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the pipeline once for one source",
		Long: `Discovers (or takes from --url) article URLs for one source, runs them
through fetch, extract, validate and the safety gate, persists the batch
and prints the run report as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tag := content.Source(source)
			if !appInstance.Config().KnownSource(tag) {
				return fmt.Errorf("unknown source %q", source)
			}
			if maxArticles < 0 {
				return fmt.Errorf("--max-articles must be >= 0")
			}

			runID, err := appInstance.IDs().NewID()
			if err != nil {
				return fmt.Errorf("generate run id: %w", err)
			}
			req := content.RunRequest{
				RunID:       runID,
				Source:      tag,
				URLs:        urls,
				MaxArticles: maxArticles,
				Submitted:   appInstance.Clock().Now().Unix(),
			}
			_, report := appInstance.Runner().Run(cmd.Context(), req)
			appInstance.Logger().Info("run complete",
				zap.String("run_id", runID),
				zap.String("batch_id", report.BatchID),
				zap.Int("items", report.Items),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source tag to scrape (e.g. pitchfork)")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "article URL to scrape instead of discovery (repeatable)")
	cmd.Flags().IntVar(&maxArticles, "max-articles", 0, "cap on URLs processed; 0 uses pipeline.max_articles_per_run")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
