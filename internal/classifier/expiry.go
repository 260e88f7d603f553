package classifier

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var footnoteRegexp = regexp.MustCompile(`Abgabe bis (\d{1,2})\.(\d{1,2})\.(\d{4})`)

// EndOfDay returns the last second of the day of t in loc
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc)
}

// PlaceholderExpiry returns an artificial expiry surviving the next daily crawl
func PlaceholderExpiry(now time.Time, loc *time.Location) int64 {
	return EndOfDay(now, loc).Add(2 * time.Minute).Unix()
}

// ParseFootnoteExpiry parses "Abgabe bis DD.MM.YYYY" as the end of that day
func ParseFootnoteExpiry(footnote string, loc *time.Location) int64 {
	m := footnoteRegexp.FindStringSubmatch(footnote)
	if m == nil {
		return 0
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return 0
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Day() != day {
		return 0
	}
	return EndOfDay(date, loc).Unix()
}

// ParseStart parses an upstream start date
func ParseStart(s string, loc *time.Location) int64 {
	return parseDate(s, loc, false)
}

// ParseExpiry parses an upstream expiration date,
// a date without time means the end of that day
func ParseExpiry(s string, loc *time.Location) int64 {
	return parseDate(s, loc, true)
}

func parseDate(s string, loc *time.Location, endOfDay bool) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t.Unix()
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		if endOfDay {
			return EndOfDay(t, loc).Unix()
		}
		return t.Unix()
	}
	return 0
}

// LaterExpiry returns the later of two expiry timestamps
func LaterExpiry(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
