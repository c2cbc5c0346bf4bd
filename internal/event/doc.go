/*
Package event provides a type-safe, pub/sub event system for the control plane.

The event system decouples the Session Supervisor, Orchestration Engine, and
Attention Inbox from the Control Surface: publishers emit events and the
server's SSE/websocket handlers subscribe without direct dependencies.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve Go type information. It
supports both synchronous and asynchronous publishing.

# Event Kinds

  - session.created, session.restart, session.exit, session.tool_link,
    session.git, session.meta
  - input, interrupt, stop, kill, profile.startup
  - inbox.respond, inbox.dismiss
  - orchestration.created, orchestration.dispatch,
    orchestration.command.executed, orchestration.question.*,
    orchestration.steering.*

# Basic Usage

Publishing events:

	event.Publish(event.Event{
		Kind: types.EventSessionCreated,
		Data: event.SessionCreatedData{Info: session},
	})

	event.PublishSync(event.Event{
		Kind: types.EventInboxRespond,
		Data: event.InboxItemData{Item: item},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(types.EventSessionCreated, func(e event.Event) {
		data := e.Data.(event.SessionCreatedData)
		logging.Info().Str("sessionID", data.Info.ID).Msg("session created")
	})
	defer unsubscribe()

Subscribing to all events:

	unsubscribe := event.SubscribeAll(func(e event.Event) {
		logging.Debug().Str("kind", string(e.Kind)).Msg("event")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers run synchronously in the publisher's
goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber
  - Never acquire locks that the publisher might hold

# Custom Event Bus

For testing or isolation, create a dedicated bus instance:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(types.EventSessionCreated, handler)
	bus.PublishSync(event.Event{Kind: types.EventSessionCreated, Data: data})

# Testing

	event.Reset() // reset global bus state, use in test cleanup

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple
goroutines. Both publishing and subscribing are protected internally.

# Integration with Watermill

	pubsub := event.PubSub()
	// Use watermill features like middleware, routing, etc.

This keeps a path open to a distributed broker without changing the API.
*/
package event
