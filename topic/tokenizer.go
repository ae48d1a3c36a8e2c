package topic

import "strings"

const (
	sharePrefix = "$share/"

	// maxLevelLen is the longest permitted single level, matching the
	// uint16 length fields of the wire format.
	maxLevelLen = 65535
)

// tokenizeFilter splits a subscription filter into its levels, validating
// wildcard placement and extracting the share-group name from a
// $share/<group>/<filter> form. Empty levels are preserved: "/a" yields
// ["", "a"] and "a//b" yields ["a", "", "b"].
func tokenizeFilter(filter string) (levels []string, share string, err error) {
	if len(filter) == 0 {
		return nil, "", &ValidationError{"topic filter cannot be empty"}
	}

	if strings.HasPrefix(filter, sharePrefix) {
		rest := filter[len(sharePrefix):]
		idx := strings.IndexByte(rest, '/')
		if idx <= 0 {
			return nil, "", &ValidationError{"shared subscription missing group name"}
		}
		share = rest[:idx]
		if strings.ContainsAny(share, "+#") {
			return nil, "", &ValidationError{"shared subscription group name cannot contain wildcards"}
		}
		filter = rest[idx+1:]
		if len(filter) == 0 {
			return nil, "", &ValidationError{"shared subscription missing topic filter"}
		}
	}

	levels = splitLevels(filter)
	for i, level := range levels {
		if len(level) > maxLevelLen {
			return nil, "", &ValidationError{"topic level exceeds maximum length"}
		}
		if strings.ContainsRune(level, '#') {
			if level != "#" {
				return nil, "", &ValidationError{"multi-level wildcard '#' must occupy entire level"}
			}
			if i != len(levels)-1 {
				return nil, "", &ValidationError{"multi-level wildcard '#' must be last level"}
			}
		}
		if strings.ContainsRune(level, '+') && level != "+" {
			return nil, "", &ValidationError{"single-level wildcard '+' must occupy entire level"}
		}
	}

	return levels, share, nil
}

// tokenizeTopic splits a published topic into its levels. Wildcard bytes
// are not rejected here; publish-side validation is the transport's job.
func tokenizeTopic(topic string) ([]string, error) {
	if len(topic) == 0 {
		return nil, &ValidationError{"topic cannot be empty"}
	}

	levels := splitLevels(topic)
	for _, level := range levels {
		if len(level) > maxLevelLen {
			return nil, &ValidationError{"topic level exceeds maximum length"}
		}
	}
	return levels, nil
}

// splitLevels splits a topic into levels by '/', preserving empty levels
func splitLevels(topic string) []string {
	levels := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			levels = append(levels, topic[start:i])
			start = i + 1
		}
	}
	return append(levels, topic[start:])
}
