package schema

import "github.com/davicafu/eventrelay/internal/shared/events"

// DefaultRegistry registra el catálogo completo de eventos de dominio.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister(events.MessageCreatedType, 1, ContractFor[events.MessageCreated]())
	r.MustRegister(events.MessageEditedType, 1, ContractFor[events.MessageEdited]())
	r.MustRegister(events.MessageDeletedType, 1, ContractFor[events.MessageDeleted]())
	r.MustRegister(events.ReactionAddedType, 1, ContractFor[events.ReactionAdded]())
	r.MustRegister(events.ReactionRemovedType, 1, ContractFor[events.ReactionRemoved]())
	r.MustRegister(events.FollowAddedType, 1, ContractFor[events.FollowAdded]())
	r.MustRegister(events.FollowRemovedType, 1, ContractFor[events.FollowRemoved]())
	r.MustRegister(events.PostCreatedType, 1, ContractFor[events.PostCreatedV1]())
	r.MustRegister(events.PostCreatedType, 2, ContractFor[events.PostCreated]())
	r.MustRegister(events.PostUpdatedType, 1, ContractFor[events.PostUpdated]())
	r.MustRegister(events.PostDeletedType, 1, ContractFor[events.PostDeleted]())
	r.MustRegister(events.NotificationCreatedType, 1, ContractFor[events.NotificationCreated]())
	r.MustRegister(events.SearchIndexUpdatedType, 1, ContractFor[events.SearchIndexUpdated]())
	r.MustRegister(events.StreamStartedType, 1, ContractFor[events.StreamStarted]())
	r.MustRegister(events.StreamEndedType, 1, ContractFor[events.StreamEnded]())
	r.MustRegister(events.StreamMessagePostedType, 1, ContractFor[events.StreamMessagePosted]())

	return r
}
