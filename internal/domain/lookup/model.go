// Package lookup loads the id -> concept translation tables that resolve
// categorical survey answers, and caches them for one migration run.
package lookup

import (
	"math"
	"strconv"
	"strings"
)

// Table maps a source-side code, in its normalised string form, to the
// destination concept id. A Table is never mutated after it is loaded.
type Table struct {
	Name    string
	entries map[string]int64
}

// NewTable builds a table, normalising every key with NormalizeCode.
// Keys that cannot be normalised are ignored.
func NewTable(name string, entries map[string]int64) *Table {
	t := &Table{Name: name, entries: make(map[string]int64, len(entries))}
	for k, v := range entries {
		if nk, ok := NormalizeCode(k); ok {
			t.entries[nk] = v
		}
	}
	return t
}

// Get probes the table with a raw code of any supported type.
func (t *Table) Get(code interface{}) (int64, bool) {
	if t == nil {
		return 0, false
	}
	k, ok := NormalizeCode(code)
	if !ok {
		return 0, false
	}
	v, ok := t.entries[k]
	return v, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// NormalizeCode returns the string form used as a table key. Integral
// numbers, including "2.0" and 2.0, normalise to "2" so a code read from a
// spreadsheet matches the integer id stored in the table.
func NormalizeCode(code interface{}) (string, bool) {
	switch v := code.(type) {
	case nil:
		return "", false
	case string:
		return normalizeString(v)
	case []byte:
		return normalizeString(string(v))
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float32:
		return normalizeFloat(float64(v)), true
	case float64:
		return normalizeFloat(v), true
	default:
		return "", false
	}
}

func normalizeString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return normalizeFloat(f), true
	}
	return s, true
}

func normalizeFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
