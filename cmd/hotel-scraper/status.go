package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/petstay/hotel-scraper/internal/brands"
	"github.com/petstay/hotel-scraper/internal/config"
	"github.com/petstay/hotel-scraper/internal/database"
	"github.com/petstay/hotel-scraper/internal/models"
	"github.com/petstay/hotel-scraper/internal/storage"
)

var (
	statusBrand string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint positions and stored record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			names := brands.Names()
			if statusBrand != "" {
				if _, err := brands.PathsFor(statusBrand, cfg.Storage.DataDir); err != nil {
					return err
				}
				names = []string{strings.ToLower(statusBrand)}
			}

			var journal *database.JournalStore
			if cfg.Journal.Enabled {
				db, err := database.New(cmd.Context(), cfg.Journal.DatabaseURL)
				if err != nil {
					color.Yellow("journal unreachable: %v", err)
				} else {
					defer db.Close()
					journal = database.NewJournalStore(db, cfg.Journal.RedisStream)
				}
			}

			for _, name := range names {
				printBrandStatus(cmd.Context(), cfg, journal, name)
			}
			return nil
		},
	}
)

func init() {
	statusCmd.Flags().StringVar(&statusBrand, "brand", "", "limit output to one brand")
	rootCmd.AddCommand(statusCmd)
}

func printBrandStatus(ctx context.Context, cfg *config.Config, journal *database.JournalStore, name string) {
	paths, err := brands.PathsFor(name, cfg.Storage.DataDir)
	if err != nil {
		return
	}

	color.Cyan("%s", name)

	count, err := countRecords(paths.OutputJSON)
	if err != nil {
		color.Red("  records: %v", err)
	} else {
		fmt.Printf("  records: %d (%s)\n", count, paths.OutputJSON)
	}

	if _, err := os.Stat(paths.Checkpoint); errors.Is(err, os.ErrNotExist) {
		fmt.Println("  checkpoint: none, next run starts fresh")
	} else {
		pos := storage.NewCheckpointStore(paths.Checkpoint, slog.Default()).Load()
		color.Yellow("  checkpoint: %s", pos)
	}

	if journal == nil {
		return
	}
	runs, err := journal.RecentRuns(ctx, name, 3)
	if err != nil {
		color.Red("  runs: %v", err)
		return
	}
	for _, run := range runs {
		fmt.Printf("  run %s: %s\n", shortID(run.ID.String()), describeRun(run))
	}
}

func countRecords(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return len(records), nil
}

func describeRun(run database.RunRecord) string {
	var b strings.Builder
	b.WriteString(runStateLabel(run.State))
	b.WriteString(" started ")
	b.WriteString(run.StartedAt.Format("2006-01-02 15:04"))
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, ", took %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.LastError != nil && *run.LastError != "" {
		fmt.Fprintf(&b, " (%s)", *run.LastError)
	}
	return b.String()
}

func runStateLabel(state string) string {
	switch state {
	case "done":
		return color.GreenString(state)
	case "failed", "stalled":
		return color.RedString(state)
	default:
		return color.YellowString(state)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
