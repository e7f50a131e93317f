package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/config"
	"github.com/fortuned/stepseq/engine"
	"github.com/fortuned/stepseq/midirender"
	"github.com/fortuned/stepseq/pitch"
	"github.com/fortuned/stepseq/samplebank"
	"github.com/mitchellh/go-homedir"
)

// session is an engine with its collaborators, loaded from a project file.
type session struct {
	cfg      config.Config
	engine   *engine.Engine
	bank     *samplebank.Bank
	shifter  *pitch.Shifter
	renderer *midirender.Renderer
}

func openSession(cfg config.Config, path string) (*session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open project: %w", err)
	}
	defer f.Close()
	p, err := stepseq.ReadProject(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range p.Samples {
		p.Samples[i].Path = resolveSample(p.Samples[i].Path, dir, cfg.SampleDir)
	}
	s := &session{
		cfg:      cfg,
		bank:     samplebank.New(cfg.SampleRate),
		renderer: midirender.New(),
	}
	s.shifter = pitch.New(s.bank)
	s.engine = engine.New(cfg.Engine(), s.bank, s.shifter, s.renderer)
	s.bank.Observe(func(slot int) {
		s.shifter.Forget(slot)
		s.engine.Preloader.Invalidate()
	})
	if err := s.engine.Import(p); err != nil {
		if !errors.Is(err, engine.ErrSampleBank) {
			return nil, fmt.Errorf("could not import %s: %w", path, err)
		}
		log.Printf("warning: %v", err)
	}
	s.pregenerate()
	return s, nil
}

// resolveSample makes a relative sample path absolute, preferring a file
// next to the project.
func resolveSample(path, projectDir, sampleDir string) string {
	if path == "" {
		return path
	}
	if p, err := homedir.Expand(path); err == nil {
		path = p
	}
	if filepath.IsAbs(path) {
		return path
	}
	if p := filepath.Join(projectDir, path); exists(p) {
		return p
	}
	return filepath.Join(sampleDir, path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// pregenerate starts generating the pitched assets of every cell, so that
// playback rarely has to resample on the fly.
func (s *session) pregenerate() {
	view := s.engine.Table.View()
	seen := map[[2]float32]bool{}
	for _, row := range view.Rows {
		for _, c := range row {
			if c.IsEmpty() {
				continue
			}
			defaults, ok := s.bank.DefaultSettings(c.SampleSlot)
			if !ok {
				continue
			}
			ratio := c.Settings.Resolve(defaults).Pitch
			k := [2]float32{float32(c.SampleSlot), ratio}
			if !seen[k] {
				seen[k] = true
				s.shifter.Pregenerate(c.SampleSlot, ratio)
			}
		}
	}
}

func (s *session) close() error {
	err := s.engine.Close()
	s.shifter.Wait()
	return err
}
