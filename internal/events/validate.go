package events

import "fmt"

// Validate checks envelope fields on an event about to enter the log.
// It deliberately does not reject unknown types: the wire contract evolves
// and readers skip what they do not recognize.
func Validate(e Event) error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Sequence < 0 {
		return fmt.Errorf("sequence must be >= 0")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
