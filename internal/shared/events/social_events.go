package events

import "github.com/google/uuid"

// Tipos de objetivo sobre los que se puede reaccionar.
const (
	TargetMessage = "message"
	TargetPost    = "post"
)

type ReactionAdded struct {
	TargetID   uuid.UUID `json:"target_id" validate:"required"`
	TargetType string    `json:"target_type" validate:"required,oneof=message post"`
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Emoji      string    `json:"emoji" validate:"required,max=32"`
}

// Las reacciones se particionan por el objeto reaccionado, no por quien reacciona.
func (e ReactionAdded) AggregateID() uuid.UUID { return e.TargetID }
func (ReactionAdded) EventType() string        { return ReactionAddedType }
func (ReactionAdded) Priority() Priority       { return PriorityHigh }
func (ReactionAdded) SchemaVersion() int       { return 1 }
func (ReactionAdded) isDomainEvent()           {}

type ReactionRemoved struct {
	TargetID   uuid.UUID `json:"target_id" validate:"required"`
	TargetType string    `json:"target_type" validate:"required,oneof=message post"`
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Emoji      string    `json:"emoji" validate:"required,max=32"`
}

func (e ReactionRemoved) AggregateID() uuid.UUID { return e.TargetID }
func (ReactionRemoved) EventType() string        { return ReactionRemovedType }
func (ReactionRemoved) Priority() Priority       { return PriorityNormal }
func (ReactionRemoved) SchemaVersion() int       { return 1 }
func (ReactionRemoved) isDomainEvent()           {}

type FollowAdded struct {
	FollowerID uuid.UUID `json:"follower_id" validate:"required"`
	FolloweeID uuid.UUID `json:"followee_id" validate:"required"`
}

func (e FollowAdded) AggregateID() uuid.UUID { return e.FollowerID }
func (FollowAdded) EventType() string        { return FollowAddedType }
func (FollowAdded) Priority() Priority       { return PriorityHigh }
func (FollowAdded) SchemaVersion() int       { return 1 }
func (FollowAdded) isDomainEvent()           {}

type FollowRemoved struct {
	FollowerID uuid.UUID `json:"follower_id" validate:"required"`
	FolloweeID uuid.UUID `json:"followee_id" validate:"required"`
}

func (e FollowRemoved) AggregateID() uuid.UUID { return e.FollowerID }
func (FollowRemoved) EventType() string        { return FollowRemovedType }
func (FollowRemoved) Priority() Priority       { return PriorityNormal }
func (FollowRemoved) SchemaVersion() int       { return 1 }
func (FollowRemoved) isDomainEvent()           {}
