package events

import "github.com/google/uuid"

// Visibilidad de un post (añadida en la versión 2 de post.created).
const (
	VisibilityPublic    = "public"
	VisibilityFollowers = "followers"
	VisibilityPrivate   = "private"
)

// PostCreated es la forma actual (v2) del evento.
type PostCreated struct {
	PostID     uuid.UUID `json:"post_id" validate:"required"`
	AuthorID   uuid.UUID `json:"author_id" validate:"required"`
	Content    string    `json:"content" validate:"required,max=20000"`
	Visibility string    `json:"visibility" validate:"required,oneof=public followers private"`
}

func (e PostCreated) AggregateID() uuid.UUID { return e.PostID }
func (PostCreated) EventType() string        { return PostCreatedType }
func (PostCreated) Priority() Priority       { return PriorityHigh }
func (PostCreated) SchemaVersion() int       { return 2 }
func (PostCreated) isDomainEvent()           {}

// PostCreatedV1 es la forma original, sin visibilidad. Se sigue aceptando
// para productores que fijan la versión 1.
type PostCreatedV1 struct {
	PostID   uuid.UUID `json:"post_id" validate:"required"`
	AuthorID uuid.UUID `json:"author_id" validate:"required"`
	Content  string    `json:"content" validate:"required,max=20000"`
}

func (e PostCreatedV1) AggregateID() uuid.UUID { return e.PostID }
func (PostCreatedV1) EventType() string        { return PostCreatedType }
func (PostCreatedV1) Priority() Priority       { return PriorityHigh }
func (PostCreatedV1) SchemaVersion() int       { return 1 }
func (PostCreatedV1) isDomainEvent()           {}

// Upgrade lleva un post v1 a la forma actual; v1 solo conocía posts públicos.
func (e PostCreatedV1) Upgrade() PostCreated {
	return PostCreated{PostID: e.PostID, AuthorID: e.AuthorID, Content: e.Content, Visibility: VisibilityPublic}
}

type PostUpdated struct {
	PostID   uuid.UUID `json:"post_id" validate:"required"`
	AuthorID uuid.UUID `json:"author_id" validate:"required"`
	Content  string    `json:"content" validate:"required,max=20000"`
}

func (e PostUpdated) AggregateID() uuid.UUID { return e.PostID }
func (PostUpdated) EventType() string        { return PostUpdatedType }
func (PostUpdated) Priority() Priority       { return PriorityNormal }
func (PostUpdated) SchemaVersion() int       { return 1 }
func (PostUpdated) isDomainEvent()           {}

type PostDeleted struct {
	PostID   uuid.UUID `json:"post_id" validate:"required"`
	AuthorID uuid.UUID `json:"author_id" validate:"required"`
}

func (e PostDeleted) AggregateID() uuid.UUID { return e.PostID }
func (PostDeleted) EventType() string        { return PostDeletedType }
func (PostDeleted) Priority() Priority       { return PriorityLow }
func (PostDeleted) SchemaVersion() int       { return 1 }
func (PostDeleted) isDomainEvent()           {}

type SearchIndexUpdated struct {
	EntityID   uuid.UUID `json:"entity_id" validate:"required"`
	EntityType string    `json:"entity_type" validate:"required"`
	Operation  string    `json:"operation" validate:"required,oneof=upsert delete"`
}

func (e SearchIndexUpdated) AggregateID() uuid.UUID { return e.EntityID }
func (SearchIndexUpdated) EventType() string        { return SearchIndexUpdatedType }
func (SearchIndexUpdated) Priority() Priority       { return PriorityLow }
func (SearchIndexUpdated) SchemaVersion() int       { return 1 }
func (SearchIndexUpdated) isDomainEvent()           {}
