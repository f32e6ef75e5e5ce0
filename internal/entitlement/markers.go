package entitlement

import (
	"strings"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

const markerPrefix = "legacy_voiceover_"

// Marker is one of the durable audit flags the engine keeps in account
// metadata. The set is closed: UnlockMarker and GraceMarker.
type Marker interface {
	flag() (key string, at time.Time)
}

// UnlockMarker records that a legacy account earned the restricted category.
type UnlockMarker struct {
	UnlockedAt time.Time
}

func (m UnlockMarker) flag() (string, time.Time) { return model.MetaVoiceoverUnlockedAt, m.UnlockedAt }

// GraceMarker records when a legacy account's grace window closes.
type GraceMarker struct {
	EndsAt time.Time
}

func (m GraceMarker) flag() (string, time.Time) { return model.MetaVoiceoverGraceEndsAt, m.EndsAt }

// Markers holds the markers present on an account. A nil field means the
// marker was never written.
type Markers struct {
	Unlock *UnlockMarker
	Grace  *GraceMarker
}

// ParseMarkers reads the engine's markers out of a generic metadata map.
// Keys outside the engine's namespace are ignored; an unknown key inside it
// or an unparseable timestamp is an InvalidInputError.
func ParseMarkers(meta map[string]string) (Markers, error) {
	var m Markers
	for key, value := range meta {
		if !strings.HasPrefix(key, markerPrefix) {
			continue
		}
		switch key {
		case model.MetaVoiceoverUnlockedAt:
			at, err := parseTimestamp(key, value)
			if err != nil {
				return Markers{}, err
			}
			m.Unlock = &UnlockMarker{UnlockedAt: at}
		case model.MetaVoiceoverGraceEndsAt:
			at, err := parseTimestamp(key, value)
			if err != nil {
				return Markers{}, err
			}
			m.Grace = &GraceMarker{EndsAt: at}
		default:
			return Markers{}, &InvalidInputError{Field: key, Value: value, Err: errUnknownMarker}
		}
	}
	return m, nil
}

// Flag serializes a marker to the metadata key and ISO-8601 value stored
// for it.
func Flag(m Marker) (key, value string) {
	key, at := m.flag()
	return key, at.UTC().Format(time.RFC3339)
}

func parseTimestamp(field, value string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &InvalidInputError{Field: field, Value: value, Err: err}
	}
	return at, nil
}
