package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/locmaster/internal/config"
)

var (
	debugFlag  bool
	configFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "locations",
		Short: "Location master record resolution and deduplication",
		Long: `Parses and normalizes location addresses, matches production locations
against the master registry, finds duplicate master records and builds
merge plans that collapse them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadConfig(configFile)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to .env file (default: search ., .., ../..)")

	rootCmd.AddCommand(createParseCmd())
	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createDuplicatesCmd())
	rootCmd.AddCommand(createMergePlanCmd())
	rootCmd.AddCommand(createImportCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createDBCmd())
	rootCmd.AddCommand(createAuditCmd())

	return rootCmd
}
