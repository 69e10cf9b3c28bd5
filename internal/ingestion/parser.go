package ingestion

import (
	"fmt"
	"strings"

	"PoolLedger/internal/event"
)

// ParseRawEvent decodes a raw command. When the subscriber did not tag the
// message with a type, the subject decides it.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	t := raw.EventType
	if t == event.EventTypeUnknown {
		var ok bool
		if t, ok = ResolveSubject(raw.Subject, DefaultSubjects()); !ok {
			return nil, fmt.Errorf("unknown subject: %s", raw.Subject)
		}
	}
	return event.Decode(t, raw.Data)
}

// ResolveSubject finds the command type for a subject. Producers may append
// tokens (for example a market) after the configured subject.
func ResolveSubject(subject string, subjects []SubjectConfig) (event.EventType, bool) {
	best, bestType := "", event.EventTypeUnknown
	for _, cfg := range subjects {
		if subject != cfg.Subject && !strings.HasPrefix(subject, cfg.Subject+".") {
			continue
		}
		if len(cfg.Subject) > len(best) {
			best, bestType = cfg.Subject, cfg.EventType
		}
	}
	return bestType, best != ""
}
