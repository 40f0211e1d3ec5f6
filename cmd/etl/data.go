package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"animehub/internal/anime"
	"animehub/internal/animecsv"
	"animehub/internal/bucket"
	"animehub/internal/loader"
	"animehub/pkg/database"
	"animehub/pkg/logger"
	"animehub/pkg/models"
)

func (a *app) loadCmd() *cobra.Command {
	var (
		file string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a processed CSV file into the store",
		Long: `Load a CSV with the standard header. Repeated ids keep their first row,
missing bucket columns are derived, ids already stored are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if mode == "" {
				mode = a.cfg.Pipeline.LoadMode
			}
			m, err := loader.ParseMode(mode)
			if err != nil {
				return err
			}
			policy, err := loader.ParseErrorPolicy(a.cfg.Pipeline.OnError)
			if err != nil {
				return err
			}

			recs, err := animecsv.ReadFile(file)
			if err != nil {
				return err
			}
			recs = prepare(recs)
			logger.Get().Info("csv read", zap.String("file", file), zap.Int("records", len(recs)))

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := loader.New(db, policy).Load(ctx, recs, m)
			fmt.Printf("loaded %d, duplicates %d, failed %d\n", res.Persisted, res.Duplicates, res.Failed)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "processed CSV file")
	cmd.Flags().StringVar(&mode, "mode", "", "bulk or safe (default from config)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// prepare drops repeated ids and fills in bucket columns a file lacks.
func prepare(recs []models.BucketedRecord) []models.BucketedRecord {
	seen := make(map[int64]struct{}, len(recs))
	out := make([]models.BucketedRecord, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		if r.RatingCategory == "" || r.EpisodeRange == "" || r.Popularity == "" {
			r = bucket.Rebucket(r)
		}
		out = append(out, r)
	}
	return out
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the anime table to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			var recs []models.BucketedRecord
			if err := anime.NewRepo(db).Each(ctx, func(r models.BucketedRecord) error {
				recs = append(recs, r)
				return nil
			}); err != nil {
				return err
			}
			if err := animecsv.WriteFile(out, recs); err != nil {
				return err
			}
			fmt.Printf("exported %d records to %s\n", len(recs), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "data/anime.csv", "output CSV path")
	return cmd
}

func (a *app) analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Print top titles, rating categories and overall stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := anime.NewRepo(db)

			stats, err := repo.Stats(ctx)
			if err != nil {
				return err
			}
			if stats.Total == 0 {
				fmt.Println("no data in the store")
				return nil
			}
			top, err := repo.Top(ctx, 10)
			if err != nil {
				return err
			}
			dist, err := repo.Distribution(ctx, "rating_category")
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOP 10 BY SCORE")
			fmt.Fprintln(w, "RANK\tTITLE\tSCORE\tEPISODES\tCATEGORY")
			for i, t := range top {
				score := "-"
				if t.Score != nil {
					score = fmt.Sprintf("%.2f", *t.Score)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", i+1, truncate(t.Title, 30), score, t.Episodes, t.RatingCategory)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "RATING CATEGORY\tCOUNT")
			for _, b := range dist {
				fmt.Fprintf(w, "%s\t%d\n", b.Label, b.Count)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "total\t%d\n", stats.Total)
			fmt.Fprintf(w, "average score\t%.2f\n", stats.AvgScore)
			fmt.Fprintf(w, "max score\t%.2f\n", stats.MaxScore)
			return w.Flush()
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every row from the anime table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := anime.NewRepo(db).Clear(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func (a *app) indexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "List the indexes on the anime table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := database.ListIndexes(ctx, db, "anime")
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no indexes on anime")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}
