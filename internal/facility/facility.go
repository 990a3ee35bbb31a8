// Package facility models healthcare facilities and selects the ones nearest
// to a point.
package facility

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// Level is the care level of a facility.
type Level string

const (
	LevelPrimary   Level = "Primary"
	LevelSecondary Level = "Secondary"
	LevelTertiary  Level = "Tertiary"
)

// tertiarySpecialties is the number of declared specialities that makes a
// hospital tertiary even without an emergency department.
const tertiarySpecialties = 3

// Facility is read-only reference data fetched from OpenStreetMap.
type Facility struct {
	ID          int64     `json:"id"`
	OSMType     string    `json:"osm_type"`
	OSMID       int64     `json:"osm_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Level       Level     `json:"level"`
	Location    geo.Point `json:"location"`
	Specialties []string  `json:"specialties"`
	Emergency   bool      `json:"emergency"`
	// Rating is 0 when unrated, otherwise 1 to 5.
	Rating  float64 `json:"rating"`
	Phone   string  `json:"phone,omitempty"`
	Address string  `json:"address,omitempty"`
}

// healthAmenities are the amenity=* values treated as facilities.
var healthAmenities = map[string]bool{
	"hospital": true,
	"clinic":   true,
	"doctors":  true,
	"dentist":  true,
	"pharmacy": true,
}

// FromTags builds a Facility from an OSM element. ok is false when the tags do
// not describe a healthcare facility.
func FromTags(osmType string, osmID int64, loc geo.Point, tags map[string]string) (f Facility, ok bool) {
	kind := Kind(tags)
	if kind == "" {
		return Facility{}, false
	}
	f = Facility{
		OSMType:     osmType,
		OSMID:       osmID,
		Name:        firstTag(tags, "name", "name:en", "official_name"),
		Type:        kind,
		Location:    loc,
		Specialties: ParseSpecialties(tags["healthcare:speciality"]),
		Emergency:   strings.EqualFold(tags["emergency"], "yes"),
		Phone:       firstTag(tags, "phone", "contact:phone"),
		Address:     address(tags),
	}
	if f.Name == "" {
		f.Name = "Unnamed " + strings.ReplaceAll(kind, "_", " ")
	}
	if r, err := strconv.ParseFloat(tags["rating"], 64); err == nil && r >= 0 && r <= 5 {
		f.Rating = r
	}
	f.Level = Classify(f)
	return f, true
}

// Kind returns the facility type encoded in tags, or "" for non-health
// elements. amenity wins over healthcare.
func Kind(tags map[string]string) string {
	if a := strings.ToLower(tags["amenity"]); healthAmenities[a] {
		return a
	}
	switch h := strings.ToLower(tags["healthcare"]); h {
	case "", "no":
		return ""
	case "centre", "center":
		return "health_post"
	default:
		return h
	}
}

// Classify derives the care level: hospitals with an emergency department or
// at least three specialities are tertiary, other hospitals secondary and
// everything else primary.
func Classify(f Facility) Level {
	if f.Type != "hospital" {
		return LevelPrimary
	}
	if f.Emergency || len(f.Specialties) >= tertiarySpecialties {
		return LevelTertiary
	}
	return LevelSecondary
}

// ParseSpecialties splits an OSM healthcare:speciality value. The result is
// lower-cased, de-duplicated and sorted.
func ParseSpecialties(v string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, s := range strings.Split(v, ";") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{LevelPrimary, LevelSecondary, LevelTertiary} {
		if strings.EqualFold(s, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("facility: unknown level %q", s)
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return ""
}

func address(tags map[string]string) string {
	if full := strings.TrimSpace(tags["addr:full"]); full != "" {
		return full
	}
	var parts []string
	street := strings.TrimSpace(strings.TrimSpace(tags["addr:housenumber"]) + " " + strings.TrimSpace(tags["addr:street"]))
	for _, p := range []string{street, tags["addr:city"], tags["addr:postcode"]} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
