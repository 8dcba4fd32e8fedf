package syncer

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Activity is one unit of transfer. Raw keeps every field the list endpoint
// returned; only the ID and the sort-key fields are ever consulted.
type Activity struct {
	ID  string
	Raw map[string]any
}

// sortKeyCandidates are probed in order when no configured sort key has a
// value. The vendor has shipped all of these spellings at various times.
var sortKeyCandidates = []string{
	"startTimeGmt",
	"startTimeGMT",
	"startTimeLocal",
	"startTimeUtc",
}

// ResolveSortKey picks the field to sort by: the configured key if any item
// has a non-null value for it, otherwise the first candidate with any
// non-null value. Empty means the server order stands.
func ResolveSortKey(activities []Activity, sortKey string) string {
	if sortKey != "" && anyHasField(activities, sortKey) {
		return sortKey
	}
	for _, candidate := range sortKeyCandidates {
		if anyHasField(activities, candidate) {
			return candidate
		}
	}
	return ""
}

func anyHasField(activities []Activity, key string) bool {
	for _, a := range activities {
		if v, ok := a.Raw[key]; ok && v != nil {
			return true
		}
	}
	return false
}

// sortActivities orders most recent first by the resolved time-like key.
// String timestamps are parsed as ISO-8601-ish values; anything unparsable
// falls back to raw comparison. Ties keep input order.
func sortActivities(activities []Activity, sortKey string) []Activity {
	items := make([]Activity, len(activities))
	copy(items, activities)

	resolved := ResolveSortKey(items, sortKey)
	if resolved == "" {
		return items
	}

	type keyed struct {
		activity Activity
		value    sortValue
	}
	pairs := make([]keyed, len(items))
	for i, a := range items {
		pairs[i] = keyed{activity: a, value: newSortValue(a.Raw[resolved])}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].value.after(pairs[j].value)
	})

	for i, p := range pairs {
		items[i] = p.activity
	}
	return items
}

type sortValue struct {
	t       time.Time
	hasTime bool
	raw     string
}

func newSortValue(v any) sortValue {
	if s, ok := v.(string); ok {
		if t, ok := parseTimestamp(s); ok {
			return sortValue{t: t, hasTime: true, raw: s}
		}
		return sortValue{raw: s}
	}
	return sortValue{raw: fmt.Sprint(v)}
}

func (a sortValue) after(b sortValue) bool {
	if a.hasTime && b.hasTime {
		return a.t.After(b.t)
	}
	return a.raw > b.raw
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.Replace(s, "Z", "+00:00", 1)
	if t, err := time.Parse("2006-01-02T15:04:05-07:00", s); err == nil {
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeActivityID strips the filename prefix from an ID when present;
// IDs are otherwise opaque.
func NormalizeActivityID(activityID string) string {
	return strings.TrimPrefix(activityID, "activity_")
}
