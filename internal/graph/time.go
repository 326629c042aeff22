package graph

import "time"

// timeNow is a package-level variable for testability.
var timeNow = time.Now

const timeLayout = "2006-01-02 15:04:05"

func now() string {
	return formatTime(timeNow())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
