package ranking

import (
	"sort"
)

// DefaultMode is used when a viewer has never selected a mode.
const DefaultMode = "discover"

// Mode is a discovery mode. A mode with no categories accepts every creator.
type Mode struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// DefaultModes returns the built-in discovery modes.
func DefaultModes() []Mode {
	return []Mode{
		{Name: DefaultMode},
		{Name: "music", Categories: []string{"music", "dj", "live_performance"}},
		{Name: "gaming", Categories: []string{"gaming", "esports", "speedrun"}},
		{Name: "art", Categories: []string{"art", "illustration", "photography", "design"}},
		{Name: "lifestyle", Categories: []string{"fitness", "food", "travel", "fashion"}},
		{Name: "learning", Categories: []string{"education", "science", "tech"}},
	}
}

// ModeSet is an immutable lookup over the supported modes.
type ModeSet struct {
	modes map[string]modeEntry
	names []string
}

type modeEntry struct {
	mode       Mode
	categories map[string]struct{}
}

// NewModeSet builds a ModeSet. Later duplicates replace earlier ones.
func NewModeSet(modes []Mode) *ModeSet {
	s := &ModeSet{modes: make(map[string]modeEntry, len(modes))}
	for _, m := range modes {
		if m.Name == "" {
			continue
		}
		cats := make(map[string]struct{}, len(m.Categories))
		for _, c := range m.Categories {
			cats[c] = struct{}{}
		}
		if _, exists := s.modes[m.Name]; !exists {
			s.names = append(s.names, m.Name)
		}
		s.modes[m.Name] = modeEntry{mode: m, categories: cats}
	}
	sort.Strings(s.names)
	return s
}

// Valid reports whether name is a supported mode.
func (s *ModeSet) Valid(name string) bool {
	_, ok := s.modes[name]
	return ok
}

// Names returns the supported mode names, sorted.
func (s *ModeSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Compatible reports whether a creator with the given categories belongs
// in the named mode. Unknown modes are never compatible.
func (s *ModeSet) Compatible(name string, creatorCategories []string) bool {
	entry, ok := s.modes[name]
	if !ok {
		return false
	}
	if len(entry.categories) == 0 {
		return true
	}
	for _, c := range creatorCategories {
		if _, ok := entry.categories[c]; ok {
			return true
		}
	}
	return false
}
