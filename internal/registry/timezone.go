package registry

import (
	"strconv"
	"strings"
	"time"

	"dispatchbot/internal/domain"
)

// DefaultTimezone is assigned to partners registered without an offset.
const DefaultTimezone = "+07:00"

// ParseOffset reads a "+HH:MM" / "-HH:MM" UTC offset.
func ParseOffset(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	bad := &domain.ValidationError{
		Code: domain.CodeInvalidTimezone,
		Msg:  "invalid timezone " + strconv.Quote(s) + "; use a format like +07:00, +05:30 or -05:00",
	}
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, bad
	}
	h, err1 := strconv.Atoi(s[1:3])
	m, err2 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || h > 14 || m > 59 {
		return nil, bad
	}
	secs := h*3600 + m*60
	if s[0] == '-' {
		secs = -secs
	}
	return time.FixedZone("UTC"+s, secs), nil
}

// LooksLikeOffset reports whether an argument is meant as a timezone.
func LooksLikeOffset(s string) bool {
	return len(s) >= 5 && (s[0] == '+' || s[0] == '-')
}

// FormatIn renders t in the partner's offset, falling back to UTC when the
// stored offset is unreadable.
func FormatIn(t time.Time, offset string) string {
	loc, err := ParseOffset(offset)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04:05") + " (UTC" + loc.String()[3:] + ")"
}
