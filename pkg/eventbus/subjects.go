package eventbus

import (
	"strings"

	"github.com/neuroguard/neuroguard/pkg/record"
)

const (
	// SubjectPrefix is the canonical prefix for record events.
	SubjectPrefix = "neuroguard.v1.records"
)

// RecordSubject returns the subject record events of kind are published on.
func RecordSubject(kind record.Kind) string {
	return SubjectPrefix + "." + sanitizeSegment(string(kind))
}

// AllRecordsSubject matches every record event.
func AllRecordsSubject() string {
	return SubjectPrefix + ".>"
}

func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return strings.ReplaceAll(value, ".", "_")
}

// subjectMatches supports exact, "*" segment, and ">" suffix wildcards.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, ".>") {
		prefix := strings.TrimSuffix(pattern, ".>")
		if prefix == "" {
			return true
		}
		return subject == prefix || strings.HasPrefix(subject, prefix+".")
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")
	if len(patternParts) != len(subjectParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] == "*" {
			continue
		}
		if patternParts[i] != subjectParts[i] {
			return false
		}
	}
	return true
}
