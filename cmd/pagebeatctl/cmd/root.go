package cmd

import (
	"github.com/spf13/cobra"
)

var (
	brokerURL    string
	cacheURL     string
	collectorURL string
)

var rootCmd = &cobra.Command{
	Use:   "pagebeatctl",
	Short: "Pagebeat operations CLI",
	Long: `pagebeatctl is the operations tool for the pagebeat event pipeline.

Inspect and purge the dead-letter stream, toggle project activity flags,
and seed a collector with generated traffic.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker", "nats://localhost:4222", "NATS broker URL")
	rootCmd.PersistentFlags().StringVar(&cacheURL, "cache", "redis://localhost:6379", "Redis cache URL")
	rootCmd.PersistentFlags().StringVar(&collectorURL, "collector", "http://localhost:8080", "collector base URL")
}
