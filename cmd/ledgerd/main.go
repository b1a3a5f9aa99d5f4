// Command ledgerd serves the agent reputation ledger over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	configPath  string
	overlayPath string

	rootCmd = &cobra.Command{
		Use:           "ledgerd",
		Short:         "Agent reputation ledger daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger API, event stream and decay keeper",
		RunE:  runServe,
	}

	genesisCmd = &cobra.Command{
		Use:   "genesis",
		Short: "Create the reputation mint and initialize the protocol, then exit",
		RunE:  runGenesisOnly,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerd v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&overlayPath, "overlay", "", "YAML file layered over --config, e.g. config.production.yaml")
	rootCmd.AddCommand(serveCmd, genesisCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}
}
