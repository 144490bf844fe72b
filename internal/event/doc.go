/*
Package event provides a type-safe, pub/sub event system for lifecycle
observers of the Session Manager and dispatcher.

The event system enables decoupled communication: a metrics exporter or
other observer can subscribe to session lifecycle events without the
Session Manager depending on it.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while maintaining direct-call semantics to preserve type information. It
provides both synchronous and asynchronous event publishing patterns.

# Event Types

  - session.created: a new session was created
  - action.recorded: an action was recorded into a session
  - session.anchored: a session's Merkle root was committed to the anchor sink
  - session.closed: a session was closed
  - permission.required: a command requires external approval before it can run

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking)
	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{SessionID: sess.ID, ProjectRoot: sess.ProjectRoot},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.ActionRecorded, func(e event.Event) {
		data := e.Data.(event.ActionRecordedData)
		log.Info().Str("action_id", data.ActionID).Msg("action recorded")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

Publishing is fire-and-forget and never blocks or fails the caller — it
is additive telemetry, not part of any durability invariant. Subscribers
should complete quickly and must never call Publish/PublishSync
re-entrantly.

# Testing

	// Reset global bus state (use in test cleanup)
	event.Reset()
*/
package event
