// Package cmd provides the kestrelctl commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	cfgFile string
	verbose bool

	cfg *domain.Config
)

var rootCmd = &cobra.Command{
	Use:   "kestrelctl",
	Short: "Quote issuance fees from the command line",
	Long: `kestrelctl prices structured-finance issuances against a cost catalog.

Quotes can be built offline from a catalog file, or a catalog can be
imported into the database a kestrel server reads from.

Examples:
  kestrelctl quote --catalog catalog.yaml --category DEB --volume 50000000
  kestrelctl quote --catalog catalog.yaml --request issuance.yaml --out cotacao.xlsx
  kestrelctl parse "0,03% sobre o volume, mínimo de R$ 800" --volume 10000000
  kestrelctl import catalog.yaml --tenant acme`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: KESTREL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(config.Options{File: cfgFile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	// Command output goes to stdout, logs stay on stderr.
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kestrelctl version %s\n", Version)
	},
}
