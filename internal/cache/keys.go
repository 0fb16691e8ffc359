package cache

import "time"

const (
	// AccountsKey holds the raw account rows behind relation lookups.
	AccountsKey = "accounts"

	// EntriesPattern matches every cached entry listing.
	EntriesPattern = "entries:*"
)

// EntriesKey is the cache key of an entry listing. A nil bound is rendered
// empty; the unbounded listing is "entries:all".
func EntriesKey(start, end *time.Time) string {
	if start == nil && end == nil {
		return "entries:all"
	}
	return "entries:" + day(start) + ":" + day(end)
}

func day(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
