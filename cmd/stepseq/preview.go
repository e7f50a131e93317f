package main

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/engine"
	"github.com/fortuned/stepseq/oto"
	"github.com/fortuned/stepseq/samplebank"
	"github.com/spf13/cobra"
)

var previewFlags struct {
	pitch  float32
	volume float32
}

var previewCmd = &cobra.Command{
	Use:   "preview file",
	Short: "Audition a .wav or .mp3 file through the default audio device",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().Float32VarP(&previewFlags.pitch, "pitch", "p", 1, "Playback rate ratio, 0.25..4")
	previewCmd.Flags().Float32VarP(&previewFlags.volume, "volume", "v", 1, "Volume, 0..1")
}

// doneSource closes done when the column engine lets go of the source.
type doneSource struct {
	stepseq.Source
	once sync.Once
	done chan struct{}
}

func (s *doneSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.Source.Close()
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bank := samplebank.New(cfg.SampleRate)
	e := engine.New(cfg.Engine(), bank, nil, nil)
	defer e.Close()
	src, err := bank.OpenFile(resolveSample(args[0], ".", cfg.SampleDir), previewFlags.pitch)
	if err != nil {
		return err
	}
	played := &doneSource{Source: src, done: make(chan struct{})}
	if err := e.PreviewSource(played, previewFlags.volume); err != nil {
		return err
	}
	audio, err := oto.NewContext(cfg.SampleRate, cfg.BufferSize())
	if err != nil {
		return err
	}
	defer audio.Close()
	out := audio.Play(e.Process)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-played.done:
	case <-ctx.Done():
		log.Printf("interrupted")
	}
	return out.Close()
}
