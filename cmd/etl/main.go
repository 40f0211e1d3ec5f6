package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"animehub/pkg/config"
	"animehub/pkg/database"
	"animehub/pkg/logger"
)

var version = "0.1.0"

// app carries what every subcommand needs after flag parsing.
type app struct {
	configFile string
	cfg        *config.Config
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:   "etl",
		Short: "Anime metadata ETL: scrape, bucket, load and inspect",
		Long: `etl scrapes anime metadata from the Jikan API, keeps only titles not
already stored, derives rating/episode/popularity buckets and loads them into
the configured store (sqlite or postgres).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "path to config.yaml")

	root.AddCommand(&cobra.Command{
		Use:               "version",
		Short:             "Show version information",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("etl v%s\n", version)
		},
	})

	root.AddCommand(
		a.runCmd(),
		a.loadCmd(),
		a.exportCmd(),
		a.analyticsCmd(),
		a.clearCmd(),
		a.indexesCmd(),
		a.stateCmd(),
		a.tokenCmd(),
		a.watchCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// openDB opens and migrates the configured store. The caller closes it.
func (a *app) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.Migrate(mctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Get().Debug("store ready", zap.String("driver", a.cfg.Database.Driver))
	return db, nil
}
