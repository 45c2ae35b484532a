package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/vehicle-scraper/internal/app"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

func newScrapeCmd() *cobra.Command {
	var (
		src        string
		target     int
		executedBy string
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape job in the foreground and prints the result",
		Long: `Runs a single scrape job without starting the HTTP server. Results are
staged exactly as jobs started through the API, so they can be reviewed later
from the dashboard when a persistent storage backend is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			application, err := app.New(cmd.Context(), rt.cfg, rt.logger, app.Overrides{})
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			defer application.Close()

			job, err := application.ScrapeOnce(cmd.Context(), scraper.ParseSource(src), target, executedBy)
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("print job: %w", err)
			}
			if job.Status == scraper.JobStatusFailed {
				return fmt.Errorf("job %s failed", job.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&src, "source", string(scraper.SourceAll), "marketplace to scrape (olx, mobil123, carmudi, all)")
	cmd.Flags().IntVar(&target, "target", 50, "number of listings to request")
	cmd.Flags().StringVar(&executedBy, "executed-by", "cli", "operator recorded on the job")
	return cmd
}
