// Package messaging defines standard subject and stream names for the
// pagebeat event bus.
package messaging

import "strings"

// Stream and durable consumer names.
const (
	StreamEvents = "EVENTS"
	StreamRetry  = "EVENTS_RETRY"
	StreamDLQ    = "EVENTS_DLQ"

	ConsumerMain  = "worker-main"
	ConsumerRetry = "worker-retry"
)

// Subject prefixes. The final token is the partition key (project id), which
// gives per-project ordering within a subject.
const (
	SubjectEventsPrefix = "events.main."
	SubjectRetryPrefix  = "events.retry."
	SubjectDLQPrefix    = "events.dlq."
)

// Transport headers carrying retry metadata. The same values are embedded in
// the envelope body so they survive header loss.
const (
	HeaderRetryCount = "Pagebeat-Retry-Count"
	HeaderNotBefore  = "Pagebeat-Not-Before"
)

// UnknownKey is the partition key used when the project id cannot be
// determined (e.g. an unparseable payload routed to dead-letter).
const UnknownKey = "unknown"

// EventSubject returns the main-topic subject for a project.
func EventSubject(projectID string) string {
	return SubjectEventsPrefix + Token(projectID)
}

// RetrySubject returns the retry-topic subject for a project.
func RetrySubject(projectID string) string {
	return SubjectRetryPrefix + Token(projectID)
}

// DLQSubject returns the dead-letter subject for a partition key.
func DLQSubject(key string) string {
	return SubjectDLQPrefix + Token(key)
}

// KeyFromSubject extracts the partition key (last token) from a subject.
func KeyFromSubject(subject string) string {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 || idx == len(subject)-1 {
		return UnknownKey
	}
	return subject[idx+1:]
}

// Token sanitizes a partition key into a valid subject token. NATS subject
// tokens must not contain whitespace, dots, or wildcards.
func Token(key string) string {
	if key == "" {
		return UnknownKey
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, key)
}
