package logic

// RisingEdges returns a mask that is true at every row where the signal rises.
//
// prev is the value carried over from the previous file and stands in front of
// s[0]. With debounceN > 1 a rise at row i is only confirmed when
// s[i..i+debounceN-1] are all High. The window never crosses the end of s, so
// a rise fewer than debounceN rows before the end of the file never fires.
func RisingEdges(prev Level, s []Level, debounceN int) []bool {
	if len(s) == 0 {
		return nil
	}

	// ahead[i] is the length of the High run starting at i.
	var ahead []int
	if debounceN > 1 {
		ahead = make([]int, len(s))
		for i := len(s) - 1; i >= 0; i-- {
			if s[i] != High {
				continue
			}
			ahead[i] = 1
			if i+1 < len(s) {
				ahead[i] += ahead[i+1]
			}
		}
	}

	mask := make([]bool, len(s))
	before := prev
	for i, v := range s {
		if before == Low && v == High {
			mask[i] = debounceN <= 1 || ahead[i] >= debounceN
		}
		before = v
	}
	return mask
}

// EdgeDetector tracks the last sample of every signal across files.
type EdgeDetector struct {
	debounceN int
	last      map[string]Level
}

// NewEdgeDetector creates a detector that reads and updates last in place.
// Signals missing from last start Low.
func NewEdgeDetector(debounceN int, last map[string]Level) *EdgeDetector {
	if last == nil {
		last = make(map[string]Level)
	}
	return &EdgeDetector{
		debounceN: debounceN,
		last:      last,
	}
}

// Detect returns the rising mask of one signal for one file and carries the
// file's final sample forward. An empty column changes nothing.
//
// Signals whose column is absent from a file must not be passed here: their
// carried value has to survive the file untouched.
func (d *EdgeDetector) Detect(signal string, s []Level) []bool {
	if len(s) == 0 {
		return nil
	}
	mask := RisingEdges(d.last[signal], s, d.debounceN)
	d.last[signal] = s[len(s)-1]
	return mask
}

// Last returns the carried value of a signal.
func (d *EdgeDetector) Last(signal string) Level {
	return d.last[signal]
}
