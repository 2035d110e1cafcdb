// Package adselect picks the audience bucket to target and rotates through
// that bucket's ads.
package adselect

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/audience"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/catalog"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

var (
	// ErrNotFound is returned when the catalog has no entry for a bucket
	ErrNotFound = errors.New("no catalog entry for bucket")
	// ErrNoDefault means the fallback bucket is missing too; a configuration error
	ErrNoDefault = errors.New("default bucket missing from catalog")
)

// AgeMeans exposes the per-bucket mean counts of the observation window
type AgeMeans interface {
	AgeMeans(g types.Gender) [types.NumAgeGroups]float64
}

// Choice is the outcome of one selection round
type Choice struct {
	Bucket   types.Bucket
	Ad       string
	Fallback bool // the computed bucket had no entry
}

// Engine owns one rotation cursor per catalog entry. Not safe for concurrent use.
type Engine struct {
	catalog  *catalog.Catalog
	cursors  []int
	fallback types.Bucket
}

var log = logger.For("AdSelect")

// New creates an engine with every cursor at the start of its list
func New(c *catalog.Catalog) *Engine {
	return &Engine{
		catalog:  c,
		cursors:  make([]int, c.Len()),
		fallback: types.DefaultBucket,
	}
}

// Reset rewinds every cursor
func (e *Engine) Reset() {
	clear(e.cursors)
}

// SelectBucket returns the dominant gender and, for that gender only, the age
// group with the largest mean count. Ties go to female and to the lowest age group.
func (e *Engine) SelectBucket(snap audience.Snapshot, window AgeMeans) types.Bucket {
	gender := types.Female
	if snap.Male > snap.Female {
		gender = types.Male
	}

	means := window.AgeMeans(gender)
	best := types.Child
	for g := types.Child + 1; g <= types.Senior; g++ {
		if means[best] < means[g] {
			best = g
		}
	}
	return types.Bucket{Gender: gender, AgeGroup: best}
}

// NextAd advances the bucket's cursor and returns the ad under it
func (e *Engine) NextAd(b types.Bucket) (string, error) {
	i, entry, ok := e.catalog.Lookup(b)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, b)
	}
	cur := &e.cursors[i]
	if *cur >= len(entry.Ads) {
		*cur = 1
		return entry.Ads[0], nil
	}
	*cur++
	return entry.Ads[*cur-1], nil
}

// Choose runs one full selection: default bucket for an empty audience,
// dominant bucket otherwise, and a single fallback to the default bucket
// when the catalog has no entry.
func (e *Engine) Choose(snap audience.Snapshot, window AgeMeans) (Choice, error) {
	bucket := e.fallback
	if snap.People > 0 {
		bucket = e.SelectBucket(snap, window)
	}

	ad, err := e.NextAd(bucket)
	if err == nil {
		return Choice{Bucket: bucket, Ad: ad}, nil
	}
	if !errors.Is(err, ErrNotFound) || bucket == e.fallback {
		return Choice{}, fmt.Errorf("%w: %w", ErrNoDefault, err)
	}

	log.Warn("No ads for %s, falling back to %s", bucket, e.fallback)
	ad, err = e.NextAd(e.fallback)
	if err != nil {
		return Choice{}, fmt.Errorf("%w: %w", ErrNoDefault, err)
	}
	return Choice{Bucket: e.fallback, Ad: ad, Fallback: true}, nil
}
