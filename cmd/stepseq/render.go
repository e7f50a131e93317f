package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fortuned/stepseq"
	"github.com/spf13/cobra"
)

var renderFlags struct {
	out   string
	loops int
	max   time.Duration
	tail  time.Duration
}

var renderCmd = &cobra.Command{
	Use:   "render project",
	Short: "Render a project into a .wav file",
	Long: `Render a project into a 16-bit .wav file without an audio device. In song
mode the whole song is rendered; in loop mode the playback region is rendered
--loops times.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderFlags.out, "out", "o", "", "Output file (default: the project name with .wav)")
	renderCmd.Flags().IntVarP(&renderFlags.loops, "loops", "n", 1, "Passes over the region in loop mode")
	renderCmd.Flags().DurationVar(&renderFlags.max, "max", 30*time.Minute, "Stop rendering after this much audio")
	renderCmd.Flags().DurationVar(&renderFlags.tail, "tail", 500*time.Millisecond, "Audio rendered after playback stops")
}

const renderBlock = 1024

func runRender(cmd *cobra.Command, args []string) error {
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

	out := renderFlags.out
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".wav"
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("could not create output: %w", err)
	}
	defer f.Close()
	w := stepseq.NewWavWriter(f, cfg.SampleRate)

	state := e.Scheduler.State()
	limit := int(renderFlags.max.Seconds() * float64(cfg.SampleRate))
	if !state.SongMode {
		passes := max(renderFlags.loops, 1)
		limit = min(limit, passes*(state.RegionEnd-state.RegionStart)*e.Scheduler.FramesPerStep())
	}
	tail := int(renderFlags.tail.Seconds() * float64(cfg.SampleRate))

	// the pitched assets are generated in the background; waiting for them
	// makes the render deterministic
	s.shifter.Wait()
	if err := e.Scheduler.Start(state.BPM, state.RegionStart); err != nil {
		return err
	}
	buf := make(stepseq.AudioBuffer, renderBlock)
	frames := 0
	for frames < limit && e.Scheduler.Playing() {
		n := min(renderBlock, limit-frames)
		if err := render(e.ProcessOffline, w, buf[:n]); err != nil {
			return err
		}
		frames += n
	}
	e.Scheduler.Stop()
	for rendered := 0; rendered < tail; rendered += renderBlock {
		if err := render(e.ProcessOffline, w, buf[:min(renderBlock, tail-rendered)]); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	for drained := false; !drained; {
		select {
		case a := <-e.Broker.ToControl:
			log.Printf("%v: %s", a.Type, a.Message)
		default:
			drained = true
		}
	}
	log.Printf("wrote %s: %.2f s", out, float64(frames+tail)/float64(cfg.SampleRate))
	return nil
}

func render(process stepseq.AudioSource, w *stepseq.WavWriter, buf stepseq.AudioBuffer) error {
	clear(buf)
	if err := process(buf); err != nil {
		return errors.Join(errors.New("render failed"), err)
	}
	return w.Write(buf)
}
