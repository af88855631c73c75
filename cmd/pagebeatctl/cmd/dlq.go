package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagebeat/pagebeat/internal/dlq"
	natsclient "github.com/pagebeat/pagebeat/internal/messaging/nats"
)

var (
	dlqLimit int
	dlqJSON  bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter stream commands",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cleanup, err := openQueue()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entries, err := q.List(ctx, dlqLimit)
		if err != nil {
			return err
		}

		if dlqJSON {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Println("Dead-letter stream is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tRETRIES\tFAILED AT\tLAST ERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				e.ProjectID,
				e.Record.RetryCount,
				e.Record.FailedAt.Format(time.RFC3339),
				e.Record.LastError,
			)
		}
		return w.Flush()
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter stream counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cleanup, err := openQueue()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stats, err := q.Stats(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cleanup, err := openQueue()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := q.Purge(ctx); err != nil {
			return err
		}

		fmt.Println("Dead-letter stream purged")
		return nil
	},
}

func openQueue() (*dlq.Queue, func(), error) {
	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  brokerURL,
		Name: "pagebeatctl",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q, err := dlq.NewQueue(ctx, js)
	if err != nil {
		js.Close()
		return nil, nil, err
	}

	return q, func() { js.Close() }, nil
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum entries to list")
	dlqListCmd.Flags().BoolVar(&dlqJSON, "json", false, "output as JSON")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}
