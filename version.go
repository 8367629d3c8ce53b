package main

import "time"

// Build information, set with -ldflags "-X main.Version=... -X main.Commit=... -X main.BuildTime=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

// buildTime parses BuildTime as RFC3339; a missing or malformed value yields the zero time.
func buildTime() time.Time {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
