package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set at build time
var version = "dev"

var (
	cfgFile string
	addr    string
)

var rootCmd = &cobra.Command{
	Use:           "personachat",
	Short:         "Serve the persona chat pages and the chat view API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "personachat", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("PERSONACHAT_CONFIG"),
		"config file (default: config.json)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.address")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
