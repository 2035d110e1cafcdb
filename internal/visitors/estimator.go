// Package visitors estimates how many distinct people have stood in front of
// the kiosk from a sequence of reconciled headcounts.
package visitors

// Estimator counts net arrivals between consecutive headcounts. It cannot
// re-identify people: someone leaving and returning is counted again, and
// arrivals hidden by simultaneous departures are missed.
type Estimator struct {
	previous uint
	unique   uint
}

// New returns an estimator with no history
func New() *Estimator {
	return &Estimator{}
}

// Update folds in the latest headcount and returns the running unique total
func (e *Estimator) Update(people uint) uint {
	switch {
	case e.previous == 0:
		e.unique += people
	case e.previous < people:
		e.unique += people - e.previous
	}
	e.previous = people
	return e.unique
}

// Unique returns the running total without updating it
func (e *Estimator) Unique() uint {
	return e.unique
}

// Reset forgets all history
func (e *Estimator) Reset() {
	e.previous = 0
	e.unique = 0
}
