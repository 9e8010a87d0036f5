package ia

import (
	"fmt"
	"regexp"
)

// LabelState assigns root labels to shape identities and suffixed variants to
// their later positions. The counter lives beside the entry map, never inside
// it, so a base key can never collide with bookkeeping.
type LabelState struct {
	Counter int                    `json:"counter"`
	Entries map[string]*LabelEntry `json:"entries"`
}

// LabelEntry tracks one shape identity within its current visibility episode.
// LastPos is empty until the first sighting is recorded; position keys are
// never empty strings.
type LabelEntry struct {
	BaseLabel  string `json:"base_label"`
	LastPos    string `json:"last_pos"`
	NextSuffix int    `json:"next_suffix"`
}

// NewLabelState returns an empty label table. Root labels start at
// "autolabel_1".
func NewLabelState() *LabelState {
	return &LabelState{Counter: 1, Entries: make(map[string]*LabelEntry)}
}

func (s *LabelState) normalize() {
	if s.Counter < 1 {
		s.Counter = 1
	}
	if s.Entries == nil {
		s.Entries = make(map[string]*LabelEntry)
	}
}

// Assign returns the label for a sighting of baseKey at posKey.
//
// The first sighting of a base key mints a fresh root label. While the
// position is unchanged the root label is reused. Every subsequent move to a
// different position mints "root_N" with N growing monotonically per base
// key; returning to an earlier position does not reuse that position's old
// suffix.
func (s *LabelState) Assign(baseKey, posKey string) string {
	s.normalize()
	e := s.Entries[baseKey]
	if e == nil {
		e = &LabelEntry{
			BaseLabel:  fmt.Sprintf("autolabel_%d", s.Counter),
			NextSuffix: 1,
		}
		s.Counter++
		s.Entries[baseKey] = e
	}
	if e.LastPos == posKey {
		return e.BaseLabel
	}
	label := e.BaseLabel
	if e.LastPos != "" {
		label = fmt.Sprintf("%s_%d", e.BaseLabel, e.NextSuffix)
		e.NextSuffix++
	}
	e.LastPos = posKey
	return label
}

// Prune forgets entries whose base key has no open record, so a shape that
// fully disappears starts a new label episode when it reappears.
func (s *LabelState) Prune(activeBases map[string]bool) {
	for base := range s.Entries {
		if !activeBases[base] {
			delete(s.Entries, base)
		}
	}
}

var rootLabelRe = regexp.MustCompile(`^(autolabel_\d+)`)

// RootLabel extracts the root from a possibly suffixed label.
// "autolabel_3_2" maps to "autolabel_3"; unrecognized labels map to
// themselves.
func RootLabel(label string) string {
	if m := rootLabelRe.FindStringSubmatch(label); m != nil {
		return m[1]
	}
	return label
}
