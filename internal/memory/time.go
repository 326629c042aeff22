package memory

import "time"

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// timeLayout matches SQLite's datetime() text format so stored values
// compare lexicographically.
const timeLayout = "2006-01-02 15:04:05"

// Now returns the current time formatted for SQLite.
func Now() string {
	return FormatTime(timeNow())
}

// FormatTime renders t in the stored UTC text format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime accepts the stored format, RFC 3339, or a bare date.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Parse(time.RFC3339, s)
}
