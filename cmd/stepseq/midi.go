package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var midiOut string

var midiCmd = &cobra.Command{
	Use:   "midi project",
	Short: "Export a project as a Standard MIDI File",
	Long: `Export a project as a type 1 Standard MIDI File with a marker at every
section start. Lane n plays note 36+n on the General MIDI drum channel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openSession(cfg, args[0])
		if err != nil {
			return err
		}
		defer s.close()
		out := midiOut
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".mid"
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("could not create output: %w", err)
		}
		e := s.engine
		if err := s.renderer.WriteSMF(f, e.Table.State(), e.Scheduler.State(), s.bank.State()); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote %s", out)
		return nil
	},
}

func init() {
	midiCmd.Flags().StringVarP(&midiOut, "out", "o", "", "Output file (default: the project name with .mid)")
}
