package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"animehub/internal/pipeline"
	"animehub/internal/state"
	"animehub/pkg/metrics"
)

func (a *app) runCmd() *cobra.Command {
	var (
		asJSON   bool
		maxPages int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once",
		Long: `Scrape from the page after the last saved one, keep new titles, bucket
and load them. Ctrl-C stops the scrape; records fetched so far are still
loaded. Exits non-zero when the run fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if maxPages > 0 {
				a.cfg.Scraper.MaxPages = maxPages
			}

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := pipeline.FromConfig(a.cfg, db, state.NewFile(a.cfg.Pipeline.StateDir), metrics.Default(), nil)
			if err != nil {
				return err
			}

			sum, runErr := p.Run(ctx)
			if asJSON {
				b, _ := json.MarshalIndent(sum, "", "  ")
				fmt.Println(string(b))
			} else {
				printSummary(sum)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = until exhausted)")
	return cmd
}

func printSummary(s pipeline.Summary) {
	w := os.Stdout
	fmt.Fprintf(w, "run %s: %s (%s)\n", s.RunID, s.Status, s.Duration().Round(1e6))
	fmt.Fprintf(w, "  pages     %d..%d (%s)\n", s.StartPage, s.FinalPage, s.StopReason)
	fmt.Fprintf(w, "  fetched   %d\n", s.Counts.Fetched)
	fmt.Fprintf(w, "  new       %d\n", s.Counts.New)
	fmt.Fprintf(w, "  valid     %d (dropped %d)\n", s.Counts.Valid, s.Counts.Dropped.Total())
	fmt.Fprintf(w, "  loaded    %d (duplicates %d, failed %d)\n", s.Counts.Loaded, s.Counts.Duplicates, s.Counts.Failed)
	for _, a := range s.Artifacts {
		fmt.Fprintf(w, "  artifact  %s\n", a)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  warning   %s\n", warn)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "  error     %s\n", s.Error)
	}
}
