package extract

import (
	"strings"
	"unicode"

	"pettycash/internal/core"
)

// SplitDateTime splits a captured date-time into date and time on the first
// whitespace run. Values without whitespace are all date. The unknown sentinel
// comes back as date with an empty time.
func SplitDateTime(raw string) (date, tm string) {
	raw = strings.TrimSpace(raw)
	if raw == core.UnknownDateTime {
		return raw, ""
	}
	i := strings.IndexFunc(raw, unicode.IsSpace)
	if i < 0 {
		return raw, ""
	}
	return raw[:i], strings.TrimSpace(raw[i:])
}
