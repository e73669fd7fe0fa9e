package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Tipos de evento conocidos. El string es parte del contrato de red.
const (
	MessageCreatedType      = "message.created"
	MessageEditedType       = "message.edited"
	MessageDeletedType      = "message.deleted"
	ReactionAddedType       = "reaction.added"
	ReactionRemovedType     = "reaction.removed"
	FollowAddedType         = "follow.added"
	FollowRemovedType       = "follow.removed"
	PostCreatedType         = "post.created"
	PostUpdatedType         = "post.updated"
	PostDeletedType         = "post.deleted"
	NotificationCreatedType = "notification.created"
	SearchIndexUpdatedType  = "search.index_updated"
	StreamStartedType       = "stream.started"
	StreamEndedType         = "stream.ended"
	StreamMessagePostedType = "stream.message_posted"
)

var ErrUnknownEventType = errors.New("unknown event type")

// DomainEvent es el conjunto cerrado de eventos que se pueden emitir.
// Cada variante declara explícitamente su agregado, su tipo y su prioridad;
// nada se infiere del payload. El método no exportado impide variantes
// fuera de este paquete.
type DomainEvent interface {
	AggregateID() uuid.UUID
	EventType() string
	Priority() Priority
	SchemaVersion() int
	isDomainEvent()
}

// EventTypes lista todos los tipos del catálogo.
func EventTypes() []string {
	return []string{
		MessageCreatedType, MessageEditedType, MessageDeletedType,
		ReactionAddedType, ReactionRemovedType,
		FollowAddedType, FollowRemovedType,
		PostCreatedType, PostUpdatedType, PostDeletedType,
		NotificationCreatedType, SearchIndexUpdatedType,
		StreamStartedType, StreamEndedType, StreamMessagePostedType,
	}
}

// Payload serializa el evento tal y como se guarda en el outbox.
func Payload(evt DomainEvent) (json.RawMessage, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return raw, nil
}

// Decode reconstruye la variante tipada a partir de un sobre recibido.
// Las versiones antiguas se actualizan a la forma actual.
func Decode(env Envelope) (DomainEvent, error) {
	switch env.EventType {
	case MessageCreatedType:
		return decodeAs[MessageCreated](env.Data)
	case MessageEditedType:
		return decodeAs[MessageEdited](env.Data)
	case MessageDeletedType:
		return decodeAs[MessageDeleted](env.Data)
	case ReactionAddedType:
		return decodeAs[ReactionAdded](env.Data)
	case ReactionRemovedType:
		return decodeAs[ReactionRemoved](env.Data)
	case FollowAddedType:
		return decodeAs[FollowAdded](env.Data)
	case FollowRemovedType:
		return decodeAs[FollowRemoved](env.Data)
	case PostCreatedType:
		if env.SchemaVersion == 1 {
			legacy, err := decodeAs[PostCreatedV1](env.Data)
			if err != nil {
				return nil, err
			}
			return legacy.(PostCreatedV1).Upgrade(), nil
		}
		return decodeAs[PostCreated](env.Data)
	case PostUpdatedType:
		return decodeAs[PostUpdated](env.Data)
	case PostDeletedType:
		return decodeAs[PostDeleted](env.Data)
	case NotificationCreatedType:
		return decodeAs[NotificationCreated](env.Data)
	case SearchIndexUpdatedType:
		return decodeAs[SearchIndexUpdated](env.Data)
	case StreamStartedType:
		return decodeAs[StreamStarted](env.Data)
	case StreamEndedType:
		return decodeAs[StreamEnded](env.Data)
	case StreamMessagePostedType:
		return decodeAs[StreamMessagePosted](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
}

func decodeAs[T DomainEvent](data json.RawMessage) (DomainEvent, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", evt.EventType(), err)
	}
	return evt, nil
}
