package topic

import "strings"

// MatchFilter reports whether a single filter matches a concrete topic
// under MQTT wildcard semantics. The trie router does not use this; it
// exists for collaborators that match outside the trie, such as the
// filter-based ACL hook checking a topic against its rules.
func MatchFilter(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "#") || strings.HasPrefix(filter, "+")) {
		return false
	}

	if filter == topic {
		return true
	}

	return matchLevels(splitLevels(filter), splitLevels(topic))
}

func matchLevels(filterLevels, topicLevels []string) bool {
	fi := 0
	ti := 0

	for fi < len(filterLevels) && ti < len(topicLevels) {
		switch filterLevels[fi] {
		case "#":
			return true
		case "+", topicLevels[ti]:
			fi++
			ti++
		default:
			return false
		}
	}

	if fi < len(filterLevels) {
		return len(filterLevels)-fi == 1 && filterLevels[fi] == "#"
	}

	return ti == len(topicLevels)
}
