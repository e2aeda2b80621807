// Command arenactl drives a running arena server from the terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "arenactl",
		Short:         "Trading Arena command line client",
		Long:          `Connect a wallet, run AI strategies and inspect the arena leaderboard through the arena server API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("ARENA_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL, "arena server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(
		newConnectCmd(),
		newSessionCmd(),
		newRunCmd(),
		newCancelCmd(),
		newLeaderboardCmd(),
		newExecutionsCmd(),
		newBalanceCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// defaultChainID matches the server's testnet default
var defaultChainID = config.TestnetChainID

func newAPI() *apiClient {
	return newAPIClient(serverURL, timeout)
}
