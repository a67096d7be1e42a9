package session

import "fmt"

// FormatClock renders remaining seconds as H:MM:SS when an hour or more
// remains, else M:SS. Always derived from the integer counter, never from
// wall-clock comparisons, so a backgrounded tab cannot make it jump early.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
