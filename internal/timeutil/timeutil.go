package timeutil

import "time"

// KickoffLayout is how match start times are shown to users.
const KickoffLayout = "2006-01-02 15:04 MST"

// FormatKickoff formats t in loc, UTC when loc is nil. A zero time formats
// as an empty string.
func FormatKickoff(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(KickoffLayout)
}

// ResolveTimezone returns a location for a tz string, or nil if invalid.
func ResolveTimezone(tz string) *time.Location {
	if tz == "" {
		return nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil
	}
	return loc
}
