package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fortuned/stepseq/oto"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var playFlags struct {
	section  int
	step     int
	duration time.Duration
	record   string
}

var playCmd = &cobra.Command{
	Use:   "play project",
	Short: "Play a project through the default audio device",
	Long: `Play a project through the default audio device. In song mode playback
stops after the last section has been played as many times as its loop target;
in loop mode it runs until interrupted or until --duration has passed.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().IntVarP(&playFlags.section, "section", "s", -1, "Start from the first step of this section")
	playCmd.Flags().IntVar(&playFlags.step, "step", -1, "Start from this step (default: the start of the playback region)")
	playCmd.Flags().DurationVarP(&playFlags.duration, "duration", "d", 0, "Stop after this long")
	playCmd.Flags().StringVarP(&playFlags.record, "record", "r", "", "Record the output into this .wav file, relative to the record directory")
}

var errFinished = errors.New("playback finished")

func runPlay(cmd *cobra.Command, args []string) error {
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

	step := e.Scheduler.State().RegionStart
	if playFlags.section >= 0 {
		sec, ok := e.Table.View().Section(playFlags.section)
		if !ok {
			return fmt.Errorf("no section %d", playFlags.section)
		}
		step = sec.StartStep
	}
	if playFlags.step >= 0 {
		step = playFlags.step
	}

	audio, err := oto.NewContext(cfg.SampleRate, cfg.BufferSize())
	if err != nil {
		return err
	}
	defer audio.Close()
	if playFlags.record != "" {
		path := playFlags.record
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.RecordDir, path)
		}
		if err := e.Recorder.Start(path); err != nil {
			return err
		}
		log.Printf("recording to %s", path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if playFlags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, playFlags.duration)
		defer cancel()
	}

	e.Start()
	if err := e.Scheduler.Start(e.Scheduler.State().BPM, step); err != nil {
		return err
	}
	out := audio.Play(e.Process)
	log.Printf("playing %s from step %d at %d BPM", args[0], step, e.Scheduler.State().BPM)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case a := <-e.Broker.ToControl:
				log.Printf("%v: %s", a.Type, a.Message)
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !e.Scheduler.Playing() {
					return errFinished
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		e.Scheduler.Stop()
		// let the column engine fade out before closing the device
		time.Sleep(100 * time.Millisecond)
		return out.Close()
	})
	err = g.Wait()
	if errors.Is(err, errFinished) {
		err = nil
	}
	if rec := e.Recorder; rec.Active() {
		if stopErr := rec.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		} else if rec.Dropped() > 0 {
			log.Printf("warning: recording dropped %d blocks", rec.Dropped())
		}
	}
	stats := e.Preloader.Stats()
	log.Printf("done: %d preloaded starts, %d fallbacks", stats.Claimed, stats.Fallbacks)
	return err
}
