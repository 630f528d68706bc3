// Package reducer turns the decoded events of one send into an assistant
// turn.
//
// # Events
//
//   - delta: appends text. Data is a JSON string or an object with a
//     "content" or "text" member.
//   - finish: finalizes the assistant message with a fresh id and timestamp.
//     Its text is the concatenation of all deltas. When no delta arrived,
//     text carried on the finish data is used, and otherwise the message is
//     empty. An empty message is a valid turn.
//   - interrupt: suspends the turn without producing a message. Data is one
//     interrupt object or an array of them.
//   - error: fails the turn with an *UpstreamError.
//
// Other event types are ignored.
//
// # Usage
//
//	r := reducer.New()
//	for ev, err := range sse.Decode(ctx, body) {
//	    if err != nil {
//	        return err
//	    }
//	    out, _ := r.Apply(ev)
//	    if out.Kind.Terminal() {
//	        return handle(out)
//	    }
//	}
//
// Once a terminal outcome is returned the reducer refuses further events
// with ErrTurnClosed. Partial text is never turned into a Message unless a
// finish event arrives.
package reducer
