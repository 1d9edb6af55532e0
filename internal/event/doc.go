/*
Package event provides the pub/sub bus that carries agent output to session
controllers and controller notifications to observers.

The bus is built on top of watermill's gochannel for infrastructure while
keeping direct-call semantics so payload types survive delivery.

# Channels

Agent transport channels:
  - claude-output: stdout lines before the agent reported its session id
  - claude-error: stderr lines before the session id is known
  - claude-complete: process exit (payload is a bool, true on success)
  - claude-output:<id>, claude-error:<id>, claude-complete:<id>: the same, scoped

Notification channels:
  - session.message: a ledger entry was appended
  - session.status: busy flag, error, queue or listener state changed
  - session.forked: a new session was branched from a checkpoint
  - checkpoint.created / checkpoint.failed: automatic checkpoint outcome
  - process.started / process.exited: agent process lifecycle

# Sequence numbers

Every event carries a Seq stamped by the bus. Emit fans one payload out to
several channels under a single Seq, so a consumer listening on more than one
of them can process the payload exactly once:

	bus.Emit(line, event.ChannelOutput, event.Scoped(event.ChannelOutput, id))

# Basic Usage

	unsubscribe, err := bus.Subscribe(event.Scoped(event.ChannelOutput, id), func(e event.Event) {
		line := e.Payload.(string)
		...
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

Subscribe fails with ErrBusClosed once the bus is closed. Unsubscribe funcs
are idempotent.

# Subscriber Safety Guidelines

When using PublishSync or Emit, subscribers are called synchronously in the
publisher's goroutine. Subscribers MUST complete quickly and must not acquire
locks the publisher might hold. Unsubscribing from inside a handler is safe.

# Taps

Tap exposes a watermill message stream with JSON copies of a channel's events
for recorders and bridges:

	msgs, err := bus.Tap(ctx, event.ChannelOutput)
	for msg := range msgs {
		seq := msg.Metadata.Get("seq")
		...
		msg.Ack()
	}
*/
package event
