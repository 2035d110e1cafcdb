package types

import (
	"fmt"
	"time"
)

// Gender is the catalog gender key ('M' or 'F')
type Gender byte

// Gender constants
const (
	Male   Gender = 'M'
	Female Gender = 'F'
)

// ParseGender accepts M, F, m or f
func ParseGender(s string) (Gender, error) {
	switch s {
	case "M", "m":
		return Male, nil
	case "F", "f":
		return Female, nil
	default:
		return 0, fmt.Errorf("invalid gender %q", s)
	}
}

// String returns "M" or "F"
func (g Gender) String() string {
	return string(rune(g))
}

// AgeGroup indexes the audience age buckets (1..4). 0 means unclassified.
type AgeGroup uint8

// AgeGroup constants
const (
	Unclassified AgeGroup = 0
	Child        AgeGroup = 1 // (0, 14)
	YoungAdult   AgeGroup = 2 // [14, 29)
	Adult        AgeGroup = 3 // [29, 50)
	Senior       AgeGroup = 4 // [50, inf)

	// NumAgeGroups is the size of per-bucket arrays (index 0 unused)
	NumAgeGroups = 5
)

// AgeGroupFor maps an estimated age to its bucket
func AgeGroupFor(age int) AgeGroup {
	switch {
	case age <= 0:
		return Unclassified
	case age < 14:
		return Child
	case age < 29:
		return YoungAdult
	case age < 50:
		return Adult
	default:
		return Senior
	}
}

// Valid reports whether g is one of the four catalog age groups
func (g AgeGroup) Valid() bool {
	return g >= Child && g <= Senior
}

// Bucket is an (age group, gender) pair indexing the ad catalog
type Bucket struct {
	Gender   Gender
	AgeGroup AgeGroup
}

// DefaultBucket is used for an empty audience and as the lookup fallback
var DefaultBucket = Bucket{Gender: Male, AgeGroup: YoungAdult}

func (b Bucket) String() string {
	return fmt.Sprintf("%s/%d", b.Gender, b.AgeGroup)
}

// Measurement names shared by every telemetry sink
const (
	MeasurementDemographics = "Demographics"
	MeasurementAdData       = "AdData"
)

// Demographics is emitted once per cadence tick
type Demographics struct {
	People         int       `json:"people"`
	Male           int       `json:"male"`
	Female         int       `json:"female"`
	Interested     int       `json:"interested"`
	UniqueVisitors int       `json:"unique_visitors"`
	Timestamp      time.Time `json:"timestamp"`
}

// Fields returns the measurement fields under their dashboard names
func (d Demographics) Fields() map[string]any {
	return map[string]any{
		"Total people":    d.People,
		"Total male":      d.Male,
		"Total female":    d.Female,
		"Unique visitors": d.UniqueVisitors,
	}
}

// AdPlayback is emitted once per successful ad completion
type AdPlayback struct {
	PreviousAd          string    `json:"previous_ad"`
	CurrentAd           string    `json:"current_ad"`
	PeopleInterested    int       `json:"people_interested"`
	PeopleNotInterested int       `json:"people_not_interested"`
	Timestamp           time.Time `json:"timestamp"`
}

// Fields returns the measurement fields under their dashboard names
func (a AdPlayback) Fields() map[string]any {
	return map[string]any{
		"previousAd":          a.PreviousAd,
		"currentAd":           a.CurrentAd,
		"peopleInterested":    a.PeopleInterested,
		"peopleNotInterested": a.PeopleNotInterested,
	}
}
