package quiz

import "fmt"

// ConflictError is returned when a topic already has an open quiz, or when
// an answer for the topic is already being scored (OpenID empty).
type ConflictError struct {
	TopicKey string
	OpenID   string
}

func (e *ConflictError) Error() string {
	if e.OpenID == "" {
		return fmt.Sprintf("topic %q is already being scored", e.TopicKey)
	}
	return fmt.Sprintf("topic %q already has open quiz %s", e.TopicKey, e.OpenID)
}

// NotFoundError is returned when no open quiz exists for a topic.
type NotFoundError struct {
	TopicKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no open quiz for topic %q", e.TopicKey)
}
