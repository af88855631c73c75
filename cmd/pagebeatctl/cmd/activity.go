package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagebeat/pagebeat/internal/activity"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Project activity flag commands",
}

var activityEnableCmd = &cobra.Command{
	Use:   "enable <project-id>",
	Short: "Mark a project active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActivity(args[0], true)
	},
}

var activityDisableCmd = &cobra.Command{
	Use:   "disable <project-id>",
	Short: "Mark a project inactive (its traffic will be dropped)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActivity(args[0], false)
	},
}

var activityShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show whether a project is admitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := activity.NewCache(cacheURL, slog.Default())
		if err != nil {
			return err
		}
		defer cache.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if cache.IsActive(ctx, args[0]) {
			fmt.Printf("%s: active\n", args[0])
		} else {
			fmt.Printf("%s: inactive\n", args[0])
		}
		return nil
	},
}

func setActivity(projectID string, active bool) error {
	cache, err := activity.NewCache(cacheURL, slog.Default())
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.SetActive(ctx, projectID, active); err != nil {
		return err
	}

	state := "active"
	if !active {
		state = "inactive"
	}
	fmt.Printf("%s: %s\n", projectID, state)
	return nil
}

func init() {
	activityCmd.AddCommand(activityEnableCmd)
	activityCmd.AddCommand(activityDisableCmd)
	activityCmd.AddCommand(activityShowCmd)
	rootCmd.AddCommand(activityCmd)
}
