package application

import "strings"

// TopicMatches reports whether an MQTT topic filter matches a concrete
// topic. "+" matches exactly one level, "#" matches the remaining tail
// (including the parent level itself, per the MQTT match rules).
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
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
