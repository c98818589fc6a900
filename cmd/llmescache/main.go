package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "llmescache",
		Short:         "Elasticsearch-backed cache for LLM generations and embeddings",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (defaults plus environment when empty)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log output: console or json")

	root.AddCommand(
		newProvisionCmd(opts),
		newLookupCmd(opts),
		newUpdateCmd(opts),
		newClearCmd(opts),
		newVectorsCmd(opts),
		newServeCmd(opts),
	)
	return root
}
