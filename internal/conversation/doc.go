// Package conversation owns the in-memory conversation and message graph.
//
// # Overview
//
// The Repository is the single writer for conversations. Everything that
// changes a conversation, whether a user action or a progress event streamed
// from the video service, goes through one of its mutation methods:
//
//   - CreateConversation: prepend a new conversation and make it active
//   - DeleteConversation: remove a conversation, clearing the active pointer
//   - SetActive / ClearActive: switch the active conversation
//   - AppendMessage: append a message, deriving the title from the first one
//   - UpdateMessage: merge a MessagePatch into an existing message
//
// Mutations are serialized by a single mutex, so readers never observe a
// partially applied change.
//
// # Persistence
//
// A Persister receives a full State snapshot after every successful
// mutation. Save errors are logged and never reach the caller; losing a
// write degrades durability but must not break the session.
//
// # Change Notifications
//
// Every mutation publishes a Change carrying the freshly derived active
// conversation:
//
//	ch, subID := repo.Changes(ctx, "")
//	for change := range ch {
//	    render(change.Active)
//	}
//
// Slow subscribers have changes dropped rather than blocking the writer.
//
// # Messages
//
// Messages are append-only in id space. Assistant messages are created
// pending and mutate in place as events arrive; their id, role and
// timestamp never change.
package conversation
