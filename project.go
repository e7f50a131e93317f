package stepseq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type (
	// Project is the exported form of the engine state: section list, the
	// non-empty cells, playback parameters and the sample bank. Cells are
	// stored sparsely.
	Project struct {
		BPM         int
		SongMode    bool `yaml:",omitempty" json:",omitempty"`
		RegionStart int
		RegionEnd   int
		Sections    []ProjectSection `yaml:",flow"`
		Cells       []ProjectCell
		Samples     []ProjectSample `yaml:",omitempty" json:",omitempty"`
	}

	ProjectSection struct {
		Steps int
		Loops int `yaml:",omitempty" json:",omitempty"`
	}

	ProjectCell struct {
		Step   int
		Lane   int
		Slot   int
		Volume float32
		Pitch  float32
	}

	ProjectSample struct {
		Slot   int
		ID     string `yaml:",omitempty" json:",omitempty"`
		Path   string
		Name   string `yaml:",omitempty" json:",omitempty"`
		Volume float32
		Pitch  float32
	}
)

// NewProject builds a Project out of the three state values.
func NewProject(table TableState, playback PlaybackState, bank SampleBankState) *Project {
	p := &Project{
		BPM:         playback.BPM,
		SongMode:    playback.SongMode,
		RegionStart: playback.RegionStart,
		RegionEnd:   playback.RegionEnd,
	}
	for i, s := range table.Sections {
		p.Sections = append(p.Sections, ProjectSection{Steps: s.NumSteps, Loops: playback.SectionLoopTargets[i]})
	}
	for step, row := range table.Rows {
		for lane, c := range row {
			if c.IsEmpty() {
				continue
			}
			p.Cells = append(p.Cells, ProjectCell{Step: step, Lane: lane, Slot: c.SampleSlot, Volume: c.Settings.Volume, Pitch: c.Settings.Pitch})
		}
	}
	for slot, smp := range bank.Samples {
		if !smp.Loaded {
			continue
		}
		p.Samples = append(p.Samples, ProjectSample{Slot: slot, ID: smp.ID, Path: smp.Path, Name: smp.Name, Volume: smp.Settings.Volume, Pitch: smp.Settings.Pitch})
	}
	return p
}

// ReadProject parses a project from JSON or, failing that, YAML.
func ReadProject(r io.Reader) (*Project, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read project: %w", err)
	}
	var p Project
	if errJSON := json.Unmarshal(b, &p); errJSON != nil {
		p = Project{}
		if errYaml := yaml.Unmarshal(b, &p); errYaml != nil {
			return nil, fmt.Errorf("the project could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Write encodes the project as YAML.
func (p *Project) Write(w io.Writer) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("could not encode project: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("could not encode project: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Validate checks that the project can be imported without any mutation
// being rejected halfway.
func (p *Project) Validate() error {
	if p.BPM < MinBPM || p.BPM > MaxBPM {
		return fmt.Errorf("project bpm %d: %w", p.BPM, ErrBPM)
	}
	if len(p.Sections) == 0 || len(p.Sections) > MaxSections {
		return fmt.Errorf("project has %d sections: %w", len(p.Sections), ErrTooManySections)
	}
	total := 0
	for i, s := range p.Sections {
		if s.Steps < 1 || s.Steps > MaxSteps {
			return fmt.Errorf("section %d has %d steps: %w", i, s.Steps, ErrStepCount)
		}
		if s.Loops != 0 && (s.Loops < MinSectionLoops || s.Loops > MaxSectionLoops) {
			return fmt.Errorf("section %d loops %d: %w", i, s.Loops, ErrLoopTarget)
		}
		total += s.Steps
	}
	if total > MaxSteps {
		return fmt.Errorf("project has %d steps: %w", total, ErrTooManySteps)
	}
	if p.RegionStart < 0 || p.RegionEnd > total || p.RegionStart >= p.RegionEnd {
		return fmt.Errorf("project region [%d,%d): %w", p.RegionStart, p.RegionEnd, ErrRegion)
	}
	for _, c := range p.Cells {
		if c.Step < 0 || c.Step >= total {
			return fmt.Errorf("cell step %d: %w", c.Step, ErrStep)
		}
		if c.Lane < 0 || c.Lane >= MaxLanes {
			return fmt.Errorf("cell lane %d: %w", c.Lane, ErrLane)
		}
		if c.Slot < 0 || c.Slot >= MaxSampleSlots {
			return fmt.Errorf("cell slot %d: %w", c.Slot, ErrSampleSlot)
		}
		if err := (CellSettings{Volume: c.Volume, Pitch: c.Pitch}).Validate(); err != nil {
			return fmt.Errorf("cell at step %d lane %d: %w", c.Step, c.Lane, err)
		}
	}
	for _, s := range p.Samples {
		if s.Slot < 0 || s.Slot >= MaxSampleSlots {
			return fmt.Errorf("sample slot %d: %w", s.Slot, ErrSampleSlot)
		}
		if err := (SampleSettings{Volume: s.Volume, Pitch: s.Pitch}).Validate(); err != nil {
			return fmt.Errorf("sample %s: %w", SlotName(s.Slot), err)
		}
	}
	return nil
}

// PlaybackState returns the playback parameters stored in the project.
func (p *Project) PlaybackState() PlaybackState {
	s := DefaultPlaybackState()
	s.BPM = p.BPM
	s.SongMode = p.SongMode
	s.RegionStart = p.RegionStart
	s.RegionEnd = p.RegionEnd
	for i, sec := range p.Sections {
		if sec.Loops > 0 {
			s.SectionLoopTargets[i] = sec.Loops
		}
	}
	return s
}

// SampleBankState returns the sample bank stored in the project.
func (p *Project) SampleBankState() SampleBankState {
	var s SampleBankState
	for _, smp := range p.Samples {
		s.Samples[smp.Slot] = Sample{
			Loaded:   true,
			ID:       smp.ID,
			Path:     smp.Path,
			Name:     smp.Name,
			Settings: SampleSettings{Volume: smp.Volume, Pitch: smp.Pitch},
		}
	}
	return s
}
