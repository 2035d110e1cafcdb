// Package audience accumulates per-face detections into a fixed ring of
// periodic samples and reduces that ring to a reconciled headcount.
package audience

import (
	"fmt"
	"image"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// Defaults observed on the kiosk hardware
const (
	DefaultSamplePeriod = 5
	DefaultWindowSize   = 5

	// MaleThreshold splits faces by male probability
	MaleThreshold = 0.5
	// InterestYawDegrees bounds the open yaw interval counted as interested
	InterestYawDegrees = 30.0
)

// Face is one detection handed over by the perception collaborator
type Face struct {
	MaleProbability float64
	Age             int
	GazeYawDegrees  float64
	Rect            image.Rectangle
}

// Interested reports whether the head points at the screen
func (f Face) Interested() bool {
	return f.GazeYawDegrees > -InterestYawDegrees && f.GazeYawDegrees < InterestYawDegrees
}

// GenderCount holds one gender's total and its age breakdown (index 0 unused)
type GenderCount struct {
	Count      uint
	AgeBuckets [types.NumAgeGroups]uint
}

// Sample is one slot of the ring
type Sample struct {
	PeopleCount     uint
	InterestedCount uint
	Male            GenderCount
	Female          GenderCount
}

func (s *Sample) add(f Face) {
	s.PeopleCount++
	g := &s.Female
	if f.MaleProbability > MaleThreshold {
		g = &s.Male
	}
	g.Count++
	if bucket := types.AgeGroupFor(f.Age); bucket != types.Unclassified {
		g.AgeBuckets[bucket]++
	}
	if f.Interested() {
		s.InterestedCount++
	}
}

// Snapshot is the reconciled view of the window. Male+Female == People always holds.
type Snapshot struct {
	People     float64
	Male       float64
	Female     float64
	Interested float64
}

// NotInterested is People minus Interested, never negative
func (s Snapshot) NotInterested() float64 {
	if s.Interested > s.People {
		return 0
	}
	return s.People - s.Interested
}

// Window is the observation ring buffer. It is owned by a single goroutine.
type Window struct {
	samplePeriod int
	slots        []Sample
}

// NewWindow creates a ring of windowSize slots filled every samplePeriod ticks
func NewWindow(samplePeriod, windowSize int) (*Window, error) {
	if samplePeriod <= 0 {
		return nil, fmt.Errorf("sample period must be positive, got %d", samplePeriod)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	return &Window{
		samplePeriod: samplePeriod,
		slots:        make([]Sample, windowSize),
	}, nil
}

// Size returns the number of slots
func (w *Window) Size() int {
	return len(w.slots)
}

// Reset zeroes every slot
func (w *Window) Reset() {
	clear(w.slots)
}

// Record stores the faces seen on observation tick. Only boundary ticks
// (tick % samplePeriod == 0) fill a slot; it returns whether one was filled.
func (w *Window) Record(tick uint64, faces []Face) bool {
	period := uint64(w.samplePeriod)
	if tick%period != 0 {
		return false
	}
	idx := (tick / period) % uint64(len(w.slots))
	slot := &w.slots[idx]
	*slot = Sample{}
	for _, f := range faces {
		slot.add(f)
	}
	return true
}

// Slot returns a copy of slot i
func (w *Window) Slot(i int) Sample {
	return w.slots[i]
}

// sums returns the window totals of the four counters
func (w *Window) sums() (people, male, female, interested uint64) {
	for _, s := range w.slots {
		people += uint64(s.PeopleCount)
		male += uint64(s.Male.Count)
		female += uint64(s.Female.Count)
		interested += uint64(s.InterestedCount)
	}
	return
}

// Reconcile averages the window, rounds half-up and restores
// male+female == people. Partially filled windows average in their zero slots.
func (w *Window) Reconcile() Snapshot {
	people, male, female, interested := w.sums()
	n := uint64(len(w.slots))

	snap := Snapshot{
		People:     meanHalfUp(people, n),
		Male:       meanHalfUp(male, n),
		Female:     meanHalfUp(female, n),
		Interested: meanHalfUp(interested, n),
	}

	switch sum := snap.Male + snap.Female; {
	case snap.People < sum:
		snap.People = meanCeil(people, n)
	case snap.People > sum:
		if female > male {
			snap.Female = meanCeil(female, n)
		} else {
			snap.Male = meanCeil(male, n)
		}
	}

	// Two exact .5 fractions (even window sizes only) survive the single
	// correction above; the gender split is authoritative then.
	if snap.People != snap.Male+snap.Female {
		snap.People = snap.Male + snap.Female
	}
	return snap
}

// AgeMeans returns the mean per-bucket count for one gender (index 0 unused)
func (w *Window) AgeMeans(g types.Gender) [types.NumAgeGroups]float64 {
	var out [types.NumAgeGroups]float64
	for _, s := range w.slots {
		gc := s.Female
		if g == types.Male {
			gc = s.Male
		}
		for b := types.Child; b <= types.Senior; b++ {
			out[b] += float64(gc.AgeBuckets[b])
		}
	}
	n := float64(len(w.slots))
	for b := range out {
		out[b] /= n
	}
	return out
}

// meanHalfUp is floor(sum/n + 0.5) in integer arithmetic
func meanHalfUp(sum, n uint64) float64 {
	return float64((2*sum + n) / (2 * n))
}

// meanCeil is ceil(sum/n) in integer arithmetic
func meanCeil(sum, n uint64) float64 {
	return float64((sum + n - 1) / n)
}
