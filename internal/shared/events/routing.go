package events

import (
	"strings"

	"github.com/google/uuid"
)

// Topic deriva el nombre del topic a partir del tipo de evento, nunca del payload.
// "message.created" con prefijo "chat" => "chat.message.created".
func Topic(prefix, eventType string) string {
	name := normalizeTopicPart(eventType)
	prefix = strings.Trim(normalizeTopicPart(prefix), ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// PartitionKey: todos los eventos de un mismo agregado caen en la misma partición.
func PartitionKey(aggregateID uuid.UUID) string {
	return aggregateID.String()
}

func normalizeTopicPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('.')
		}
	}
	return b.String()
}
