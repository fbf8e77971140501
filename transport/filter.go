package transport

import "strings"

// MatchFilter reports whether an MQTT topic filter matches a topic name.
// "+" matches one level and a trailing "#" matches any number of levels,
// including none. Wildcards never match topics starting with "$".
func MatchFilter(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}

	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}

		if i >= len(ts) {
			return false
		}

		if f != "+" && f != ts[i] {
			return false
		}
	}

	return len(fs) == len(ts)
}
