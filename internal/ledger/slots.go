package ledger

import (
	"fmt"
	"strings"
)

// SlotSet is the closed set of time slots an installation records. Slot names
// are bound as values into a fixed column and never become SQL identifiers.
type SlotSet struct {
	names []string
	index map[string]int
}

// NewSlotSet builds a set from configured names, preserving order.
func NewSlotSet(names ...string) (SlotSet, error) {
	set := SlotSet{index: make(map[string]int, len(names))}
	for _, name := range names {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := set.index[normalized]; exists {
			continue
		}
		set.index[normalized] = len(set.names)
		set.names = append(set.names, normalized)
	}
	if len(set.names) == 0 {
		return SlotSet{}, fmt.Errorf("slot set: %w: no slots configured", ErrUnknownSlot)
	}
	return set, nil
}

// Resolve returns the canonical slot name or ErrUnknownSlot.
func (s SlotSet) Resolve(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if _, ok := s.index[normalized]; !ok {
		return "", fmt.Errorf("%w: %q (configured: %s)", ErrUnknownSlot, name, strings.Join(s.names, ", "))
	}
	return normalized, nil
}

// Names returns a copy of the configured slots in order.
func (s SlotSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Position orders slots by configuration; unknown slots sort last.
func (s SlotSet) Position(name string) int {
	if pos, ok := s.index[name]; ok {
		return pos
	}
	return len(s.names)
}
