// Package clock formats the countdown shown by every front end.
package clock

import "fmt"

// warningSeconds is the threshold at which the clock is shown as urgent.
const warningSeconds = 30

// Format renders remaining milliseconds as m:ss, rounding partial seconds up.
func Format(ms int) string {
	if ms < 0 {
		ms = 0
	}
	secs := (ms + 999) / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Warning reports whether the remaining time is within the warning window.
func Warning(ms int) bool {
	return (ms+999)/1000 <= warningSeconds
}
