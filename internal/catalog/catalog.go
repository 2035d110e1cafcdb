// Package catalog loads the advertisement list that maps an audience bucket
// (age group, gender) to an ordered list of ad files.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid ad catalog")

// Entry is one immutable catalog row
type Entry struct {
	Bucket types.Bucket
	Ads    []string
}

// Catalog is the loaded, validated ad list. Lookups keep file order.
type Catalog struct {
	entries []Entry
	index   map[types.Bucket]int
}

// rawEntry mirrors the on-disk AdList.json layout
type rawEntry struct {
	AgeGroup *int     `json:"Age_Group"`
	Gender   *string  `json:"Gender"`
	Ads      []string `json:"Ads"`
}

var log = logger.For("Catalog")

// Load reads and validates a catalog file
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a JSON array of {"Age_Group", "Gender", "Ads"} objects
func Parse(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw []rawEntry
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after ad list", ErrInvalid)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalid)
	}

	entries := make([]Entry, 0, len(raw))
	for i, re := range raw {
		e, err := re.validate()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalid, i, err)
		}
		entries = append(entries, e)
	}
	return New(entries), nil
}

func (re rawEntry) validate() (Entry, error) {
	if re.AgeGroup == nil {
		return Entry{}, errors.New("missing Age_Group")
	}
	if *re.AgeGroup < int(types.Child) || *re.AgeGroup > int(types.Senior) {
		return Entry{}, fmt.Errorf("Age_Group %d outside 1..4", *re.AgeGroup)
	}
	if re.Gender == nil {
		return Entry{}, errors.New("missing Gender")
	}
	gender, err := types.ParseGender(*re.Gender)
	if err != nil {
		return Entry{}, err
	}
	if len(re.Ads) == 0 {
		return Entry{}, errors.New("Ads must be a non-empty list")
	}
	for j, ad := range re.Ads {
		if ad == "" {
			return Entry{}, fmt.Errorf("Ads[%d] is empty", j)
		}
		if strings.IndexByte(ad, 0) >= 0 {
			return Entry{}, fmt.Errorf("Ads[%d] contains a NUL byte", j)
		}
	}
	return Entry{
		Bucket: types.Bucket{Gender: gender, AgeGroup: types.AgeGroup(*re.AgeGroup)},
		Ads:    append([]string(nil), re.Ads...),
	}, nil
}

// New builds a catalog from already validated entries. A repeated bucket
// is shadowed by its first occurrence.
func New(entries []Entry) *Catalog {
	c := &Catalog{
		entries: entries,
		index:   make(map[types.Bucket]int, len(entries)),
	}
	for i, e := range entries {
		if _, dup := c.index[e.Bucket]; dup {
			log.Warn("Duplicate entry for bucket %s at position %d ignored", e.Bucket, i)
			continue
		}
		c.index[e.Bucket] = i
	}
	return c
}

// Lookup returns the position and entry for a bucket
func (c *Catalog) Lookup(b types.Bucket) (int, Entry, bool) {
	i, ok := c.index[b]
	if !ok {
		return -1, Entry{}, false
	}
	return i, c.entries[i], true
}

// Len returns the number of entries, shadowed duplicates included
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entries returns the entries in file order
func (c *Catalog) Entries() []Entry {
	return c.entries
}

// VerifyAssets checks that every referenced ad exists under dir
func (c *Catalog) VerifyAssets(dir string) error {
	var errs []error
	seen := make(map[string]bool)
	for _, e := range c.entries {
		for _, ad := range e.Ads {
			if seen[ad] {
				continue
			}
			seen[ad] = true
			info, err := os.Stat(filepath.Join(dir, ad))
			if err != nil {
				errs = append(errs, fmt.Errorf("ad %q: %w", ad, err))
				continue
			}
			if info.IsDir() {
				errs = append(errs, fmt.Errorf("ad %q is a directory", ad))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
