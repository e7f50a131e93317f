package stepseq

// Section is a contiguous range of steps in the timeline. StartStep is derived
// data: it is always recomputed from the NumSteps of the preceding sections by
// Relayout and must never be edited by hand.
type Section struct {
	Index     int
	StartStep int
	NumSteps  int
}

// End returns the exclusive end step of the section.
func (s Section) End() int {
	return s.StartStep + s.NumSteps
}

// Contains reports whether step falls inside the section.
func (s Section) Contains(step int) bool {
	return step >= s.StartStep && step < s.End()
}

// Relayout walks the sections from index 0, assigning each its index and a
// start step equal to a running cursor, and returns the total number of
// steps. It always rewrites every section; callers that touched only one
// section still get a full pass so that no stale start step survives.
func Relayout(sections []Section) (total int) {
	for i := range sections {
		sections[i].Index = i
		sections[i].StartStep = total
		total += sections[i].NumSteps
	}
	return total
}

// Contiguous reports whether the sections start at step 0 and each section
// starts exactly where the previous one ends.
func Contiguous(sections []Section) bool {
	cursor := 0
	for i, s := range sections {
		if s.Index != i || s.StartStep != cursor || s.NumSteps < 1 {
			return false
		}
		cursor += s.NumSteps
	}
	return true
}

// SectionAt returns the index of the section containing step, or -1.
func SectionAt(sections []Section, step int) int {
	// sections are sorted by start step, so binary search
	lo, hi := 0, len(sections)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch s := sections[mid]; {
		case step < s.StartStep:
			hi = mid - 1
		case step >= s.End():
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}

// TotalSteps sums the NumSteps of all sections.
func TotalSteps(sections []Section) int {
	total := 0
	for _, s := range sections {
		total += s.NumSteps
	}
	return total
}
