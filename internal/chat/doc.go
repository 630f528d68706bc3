// ABOUTME: Package chat drives a single message send from submission to a finished reply
// ABOUTME: Documents the send state machine, per-thread exclusivity, and interrupt blocking

// Package chat runs the send-message interaction for a displayed thread.
//
// # Send State Machine
//
// A send moves a thread through these states:
//
//	idle -> initializing -> streaming -> completed -> idle
//	                                  -> interrupted
//	                                  -> failed
//
// Initializing covers resolving the thread and, for a thread that only has
// a placeholder id, creating it on the conversation service. A failure
// there fails the send; nothing is streamed without a durable id.
//
// Streaming begins once the service accepts the message. Each SSE event is
// folded by the reducer. Deltas grow the partial reply shown to
// subscribers; the partial is never persisted and is dropped when the turn
// ends.
//
// Completed is published once the reply is appended to the displayed
// thread, and the thread is then recorded as idle for the next send. The
// view is extended in place rather than re-fetched; it holds no cached
// state beyond what the turn appended, and the next Select loads the
// thread fresh from the service.
//
// # Exclusivity
//
// At most one send streams per thread. A thread is reserved under every id
// it is known by, so a second send through its placeholder, registry, or
// durable id gets ErrSendInFlight. Sends on other threads are unaffected.
//
// A send first reserves the id it was given and claims the remaining
// aliases in one step once the thread resolves. When two sends reach the
// same thread through different ids at once, the older one wins and the
// other gets ErrSendInFlight.
//
// # Interrupts
//
// A turn that ends on interrupts leaves the thread blocked. Further sends
// fail with ErrInterruptPending until ResolveInterrupt is called or a
// fresh Select finds no pending interrupts.
//
// # Updates
//
// Subscribe follows a thread by local or durable id. Updates are delivered
// best effort; a subscriber that falls behind loses updates rather than
// stalling the stream.
package chat
