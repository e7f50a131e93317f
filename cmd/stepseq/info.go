package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fortuned/stepseq"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info project",
	Short: "Print the sections, playback settings and samples of a project",
	Args:  cobra.ExactArgs(1),
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
		e := s.engine
		state := e.Scheduler.State()
		view := e.Table.View()
		fps := e.Scheduler.FramesPerStep()
		mode := "loop"
		if state.SongMode {
			mode = "song"
		}
		step := time.Duration(fps) * time.Second / time.Duration(cfg.SampleRate)
		fmt.Printf("%d BPM, %s mode, region [%d,%d), %d frames (%v) per step\n",
			state.BPM, mode, state.RegionStart, state.RegionEnd, fps, step)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SECTION\tSTART\tSTEPS\tLOOPS\tCELLS")
		for _, sec := range view.Sections {
			cells := 0
			for _, row := range view.Rows[sec.StartStep:sec.End()] {
				for _, c := range row {
					if !c.IsEmpty() {
						cells++
					}
				}
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", sec.Index+1, sec.StartStep, sec.NumSteps, state.SectionLoopTargets[sec.Index], cells)
		}
		w.Flush()

		fmt.Println()
		fmt.Fprintln(w, "SLOT\tNAME\tLENGTH\tVOLUME\tPITCH\tPATH")
		for slot, smp := range s.bank.State().Samples {
			if !smp.Loaded {
				continue
			}
			length := "?"
			if n := s.bank.Frames(slot); n >= 0 {
				length = (time.Duration(n) * time.Second / time.Duration(cfg.SampleRate)).Round(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n", stepseq.SlotName(slot), smp.Name, length, smp.Settings.Volume, smp.Settings.Pitch, smp.Path)
		}
		return w.Flush()
	},
}
