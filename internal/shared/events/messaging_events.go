package events

import (
	"time"

	"github.com/google/uuid"
)

// Estos son contratos de integración, NO entidades del dominio.
// Se definen planos para intercambio entre contextos.

type MessageCreated struct {
	MessageID      uuid.UUID `json:"message_id" validate:"required"`
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
	SenderID       uuid.UUID `json:"sender_id" validate:"required"`
	Content        string    `json:"content" validate:"required,max=8000"`
	SentAt         time.Time `json:"sent_at"`
}

func (e MessageCreated) AggregateID() uuid.UUID { return e.MessageID }
func (MessageCreated) EventType() string        { return MessageCreatedType }
func (MessageCreated) Priority() Priority       { return PriorityCritical }
func (MessageCreated) SchemaVersion() int       { return 1 }
func (MessageCreated) isDomainEvent()           {}

type MessageEdited struct {
	MessageID      uuid.UUID `json:"message_id" validate:"required"`
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
	Content        string    `json:"content" validate:"required,max=8000"`
	EditedAt       time.Time `json:"edited_at"`
}

func (e MessageEdited) AggregateID() uuid.UUID { return e.MessageID }
func (MessageEdited) EventType() string        { return MessageEditedType }
func (MessageEdited) Priority() Priority       { return PriorityNormal }
func (MessageEdited) SchemaVersion() int       { return 1 }
func (MessageEdited) isDomainEvent()           {}

type MessageDeleted struct {
	MessageID      uuid.UUID `json:"message_id" validate:"required"`
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
	DeletedBy      uuid.UUID `json:"deleted_by" validate:"required"`
}

func (e MessageDeleted) AggregateID() uuid.UUID { return e.MessageID }
func (MessageDeleted) EventType() string        { return MessageDeletedType }
func (MessageDeleted) Priority() Priority       { return PriorityHigh }
func (MessageDeleted) SchemaVersion() int       { return 1 }
func (MessageDeleted) isDomainEvent()           {}

type NotificationCreated struct {
	NotificationID uuid.UUID `json:"notification_id" validate:"required"`
	UserID         uuid.UUID `json:"user_id" validate:"required"`
	Kind           string    `json:"kind" validate:"required"`
	Message        string    `json:"message" validate:"required"`
}

// Las notificaciones se ordenan por destinatario.
func (e NotificationCreated) AggregateID() uuid.UUID { return e.UserID }
func (NotificationCreated) EventType() string        { return NotificationCreatedType }
func (NotificationCreated) Priority() Priority       { return PriorityCritical }
func (NotificationCreated) SchemaVersion() int       { return 1 }
func (NotificationCreated) isDomainEvent()           {}
