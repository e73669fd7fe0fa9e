package events

import "github.com/google/uuid"

type StreamStarted struct {
	StreamID uuid.UUID `json:"stream_id" validate:"required"`
	HostID   uuid.UUID `json:"host_id" validate:"required"`
	Title    string    `json:"title" validate:"required,max=200"`
}

func (e StreamStarted) AggregateID() uuid.UUID { return e.StreamID }
func (StreamStarted) EventType() string        { return StreamStartedType }
func (StreamStarted) Priority() Priority       { return PriorityCritical }
func (StreamStarted) SchemaVersion() int       { return 1 }
func (StreamStarted) isDomainEvent()           {}

type StreamEnded struct {
	StreamID     uuid.UUID `json:"stream_id" validate:"required"`
	HostID       uuid.UUID `json:"host_id" validate:"required"`
	DurationSecs int64     `json:"duration_secs" validate:"gte=0"`
}

func (e StreamEnded) AggregateID() uuid.UUID { return e.StreamID }
func (StreamEnded) EventType() string        { return StreamEndedType }
func (StreamEnded) Priority() Priority       { return PriorityHigh }
func (StreamEnded) SchemaVersion() int       { return 1 }
func (StreamEnded) isDomainEvent()           {}

type StreamMessagePosted struct {
	StreamID  uuid.UUID `json:"stream_id" validate:"required"`
	MessageID uuid.UUID `json:"message_id" validate:"required"`
	SenderID  uuid.UUID `json:"sender_id" validate:"required"`
	Content   string    `json:"content" validate:"required,max=2000"`
}

func (e StreamMessagePosted) AggregateID() uuid.UUID { return e.StreamID }
func (StreamMessagePosted) EventType() string        { return StreamMessagePostedType }
func (StreamMessagePosted) Priority() Priority       { return PriorityCritical }
func (StreamMessagePosted) SchemaVersion() int       { return 1 }
func (StreamMessagePosted) isDomainEvent()           {}
