package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagebeat/pagebeat/internal/seeder"
)

var (
	seedProjectID  string
	seedCount      int
	seedBatchSize  int
	seedSessions   int
	seedTimeSpread time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send generated analytics traffic to a collector",
	Long: `Generate realistic browser events and post them to a collector.

Examples:
  # 100 events for the default project
  pagebeatctl seed --project demo

  # a day of traffic, 5000 events across 200 sessions
  pagebeatctl seed --project demo --count 5000 --sessions 200 --spread 24h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := seeder.NewRunner(seeder.Config{
			CollectorURL: collectorURL,
			ProjectID:    seedProjectID,
			Count:        seedCount,
			BatchSize:    seedBatchSize,
			Sessions:     seedSessions,
			TimeSpread:   seedTimeSpread,
		})

		start := time.Now()
		accepted, err := runner.Run()
		if err != nil {
			return fmt.Errorf("seeding failed after %d accepted events: %w", accepted, err)
		}

		fmt.Printf("Sent %d events (%d accepted) in %s\n", seedCount, accepted, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedProjectID, "project", "demo", "project id to seed")
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of events to send")
	seedCmd.Flags().IntVar(&seedBatchSize, "batch-size", 50, "events per request")
	seedCmd.Flags().IntVar(&seedSessions, "sessions", 10, "number of distinct sessions")
	seedCmd.Flags().DurationVar(&seedTimeSpread, "spread", time.Hour, "spread event times over this window")
	rootCmd.AddCommand(seedCmd)
}
