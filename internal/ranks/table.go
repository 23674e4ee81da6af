// Package ranks holds the threshold tables that map accumulated XP to rank
// names and rank roles, and the arithmetic the setup wizard uses to lay out
// a fresh table.
package ranks

import (
	"sort"
	"strconv"
	"strings"
)

// Unranked is reported for members below every threshold.
const Unranked = "Unranked"

// Entry binds a value (rank name or role id) to an XP threshold.
type Entry struct {
	Threshold int64
	Value     string
}

// Table is an ordered set of entries with unique thresholds, kept sorted
// ascending. The zero value is an empty table.
type Table struct {
	entries []Entry
}

// NewTable builds a table from entries in any order. A later entry wins
// over an earlier one with the same threshold.
func NewTable(entries ...Entry) Table {
	var t Table
	for _, e := range entries {
		t.Set(e.Threshold, e.Value)
	}
	return t
}

func (t *Table) search(threshold int64) int {
	return sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Threshold >= threshold
	})
}

// Set inserts or replaces the value at threshold.
func (t *Table) Set(threshold int64, value string) {
	i := t.search(threshold)
	if i < len(t.entries) && t.entries[i].Threshold == threshold {
		t.entries[i].Value = value
		return
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = Entry{Threshold: threshold, Value: value}
}

// Remove deletes the entry at threshold and reports whether it existed.
func (t *Table) Remove(threshold int64) bool {
	i := t.search(threshold)
	if i == len(t.entries) || t.entries[i].Threshold != threshold {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// Get returns the value stored at exactly threshold.
func (t Table) Get(threshold int64) (string, bool) {
	i := t.search(threshold)
	if i == len(t.entries) || t.entries[i].Threshold != threshold {
		return "", false
	}
	return t.entries[i].Value, true
}

// Highest returns the entry with the largest threshold not exceeding xp.
func (t Table) Highest(xp int64) (Entry, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Threshold > xp
	})
	if i == 0 {
		return Entry{}, false
	}
	return t.entries[i-1], true
}

// Entries returns a copy of the entries in ascending threshold order.
func (t Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t Table) Len() int {
	return len(t.entries)
}

// Resolve returns the rank name for xp, or Unranked.
func Resolve(t Table, xp int64) string {
	if e, ok := t.Highest(xp); ok {
		return e.Value
	}
	return Unranked
}

// ParseBulk reads "XP:Name, XP:Name, ..." input. Pairs without a colon, with
// a non-integer or negative XP, or with an empty name are skipped.
func ParseBulk(input string) []Entry {
	var out []Entry
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		xpStr, name, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		xp, err := strconv.ParseInt(strings.TrimSpace(xpStr), 10, 64)
		if err != nil || xp < 0 {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, Entry{Threshold: xp, Value: name})
	}
	return out
}
