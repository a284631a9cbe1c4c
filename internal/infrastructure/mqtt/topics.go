package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Topic grammar limits per MQTT 3.1.1 §4.7.
const (
	levelSeparator = "/"
	singleLevel    = "+"
	multiLevel     = "#"

	// maxTopicLength is the largest UTF-8 encoded topic or filter.
	maxTopicLength = 65535
)

// ValidateFilter checks a subscription topic filter.
//
// Rules:
//   - Non-empty, valid UTF-8, no NUL characters, at most 65535 bytes
//   - "+" must occupy a whole level
//   - "#" must occupy a whole level and be the last level
//
// Returns:
//   - error: wraps ErrInvalidFilter describing the first violation, or nil
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidFilter, filter, err)
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, singleLevel) && level != singleLevel {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidFilter, filter)
		}
		if strings.Contains(level, multiLevel) {
			if level != multiLevel {
				return fmt.Errorf("%w: %q: '#' must occupy a whole level", ErrInvalidFilter, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidFilter, filter)
			}
		}
	}

	return nil
}

// ValidateTopicName checks a concrete topic name as carried by PUBLISH.
// Topic names never contain wildcards.
func ValidateTopicName(topic string) error {
	if err := validateCommon(topic); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidTopic, topic, err)
	}
	if strings.ContainsAny(topic, singleLevel+multiLevel) {
		return fmt.Errorf("%w: %q: wildcards are not allowed in topic names", ErrInvalidTopic, topic)
	}
	return nil
}

func validateCommon(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case len(s) > maxTopicLength:
		return fmt.Errorf("longer than %d bytes", maxTopicLength)
	case !utf8.ValidString(s):
		return errors.New("not valid UTF-8")
	case strings.ContainsRune(s, 0):
		return errors.New("contains NUL")
	}
	return nil
}

// MatchTopic reports whether the concrete topic matches filter.
//
// Both arguments are assumed valid. Topics beginning with '$' are never
// matched by a filter whose first level is a wildcard.
//
// Examples:
//
//	MatchTopic("freezer/+", "freezer/status")  // true
//	MatchTopic("sensors/#", "sensors")         // true
//	MatchTopic("#", "$SYS/broker/uptime")      // false
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, levelSeparator)
	tl := strings.Split(topic, levelSeparator)

	if strings.HasPrefix(topic, "$") && (fl[0] == singleLevel || fl[0] == multiLevel) {
		return false
	}

	for i, f := range fl {
		if f == multiLevel {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != singleLevel && f != tl[i] {
			return false
		}
	}

	return len(fl) == len(tl)
}
