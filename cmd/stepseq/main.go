package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fortuned/stepseq/config"
	"github.com/fortuned/stepseq/version"
	"github.com/spf13/cobra"
)

var flags struct {
	config string
}

var rootCmd = &cobra.Command{
	Use:   "stepseq",
	Short: "Step sequencer for sample-based drum patterns",
	Long: `stepseq plays, renders and exports step sequencer projects.

A project is a .yml or .json file listing the sections of the timeline, the
non-empty cells of the step grid, the playback parameters and the samples.
Sample paths are resolved against the project directory first and then
against the configured sample directory.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "",
		"Configuration file (.yml); STEPSEQ_* environment variables override it")
	rootCmd.AddCommand(playCmd, renderCmd, midiCmd, infoCmd, previewCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return cfg, fmt.Errorf("could not load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	log.SetFlags(log.Ltime)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stepseq: %v\n", err)
		os.Exit(1)
	}
}
