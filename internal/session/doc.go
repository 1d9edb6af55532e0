// Package session drives a claude CLI session from the host side.
//
// A Controller owns one conversation. It launches turns through a Launcher,
// follows the agent's stream-json output on the event bus, and records every
// message in an append-only Ledger.
//
// # Listener Handoff
//
// The agent only reports its session id in the system/init line, so a turn
// starts listening on the generic output channels:
//
//	claude-output, claude-error, claude-complete
//
// When the init line arrives the ListenerManager installs the scoped set
// (claude-output:<id> and friends) and then drops the generic one. The
// launcher publishes the init line on both channels under one sequence
// number, and the controller drops the second copy. Deliveries that reach a
// set after it was replaced are ignored.
//
// # Queueing
//
// Prompts submitted while a turn is in flight are queued in order and released
// one at a time when the turn completes, optionally after a release delay.
// Queued prompts can be removed before they start. Cancel clears the queue.
//
// # Checkpoints
//
// After a successful turn the CheckpointTrigger asks the checkpoint service
// whether the session's policy wants a snapshot. Checkpoint failures are
// logged and published on checkpoint.failed; they never fail the turn.
//
// # Events
//
// When Options.Notify is set the controller publishes session.message for
// every ledger entry and session.status whenever its observable state changes.
// Notifications are published after the controller's lock is released, so
// handlers may call back into it.
//
// # Storage
//
// Records persists session metadata at session/{projectID}/{sessionID}.
package session
