package stepseq

type (
	// SampleBank owns the loaded samples. The engine only reads it, except
	// when a snapshot is applied through ApplyState.
	SampleBank interface {
		IsLoaded(slot int) bool
		// Decoder opens a fresh stream of the sample at the engine rate.
		Decoder(slot int) (Source, error)
		DefaultSettings(slot int) (SampleSettings, bool)
		// Frames returns the length of the sample in frames at the engine
		// rate, or -1 when not known.
		Frames(slot int) int
		State() SampleBankState
		ApplyState(state SampleBankState) error
	}

	// PitchShifter returns a playable stream of a sample played at a pitch
	// ratio. Source may generate the adjusted asset synchronously; Pregenerate
	// starts the generation in the background so a later Source is cheap.
	PitchShifter interface {
		Source(slot int, ratio float32) (Source, error)
		Pregenerate(slot int, ratio float32)
	}

	// PatternRenderer is the secondary playback backend with its own
	// timeline. LayoutChanged is called once after each completed batch of
	// structural table changes, with the final sections, and must be
	// idempotent.
	PatternRenderer interface {
		LayoutChanged(sections []Section)
	}
)
