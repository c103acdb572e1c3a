package transport

import "strings"

// Match reports whether topic matches an MQTT topic filter. A "+" level
// matches exactly one level, a trailing "#" matches any remaining levels,
// including none.
func Match(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
