package cleanup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAge is returned by ParseAge for malformed input.
var ErrInvalidAge = errors.New("cleanup: invalid age")

const day = 24 * time.Hour

var ageUnits = []struct {
	suffix string
	unit   time.Duration
}{
	// "ms" must be tried before "m" and "s".
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", day},
	{"w", 7 * day},
	{"y", 365 * day},
}

// ParseAge parses ages like "30d", "24h", "1w", "90m", "45s", "1y" or
// "500ms". The number may carry a fraction ("1.5h").
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	for _, u := range ageUnits {
		num, ok := strings.CutSuffix(s, u.suffix)
		if !ok {
			continue
		}

		v, err := strconv.ParseFloat(num, 64)
		if err != nil || num == "" || v < 0 || strings.ContainsAny(num, "eE+-") {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
		}

		return time.Duration(v * float64(u.unit)), nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
}

// AgeMillis parses an age and returns it in milliseconds.
func AgeMillis(s string) (int64, error) {
	d, err := ParseAge(s)
	if err != nil {
		return 0, err
	}

	return d.Milliseconds(), nil
}
