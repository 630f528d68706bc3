// Package sse decodes server-sent event streams produced by the
// conversation-state service.
//
// # Wire Format
//
// The stream endpoint answers with newline-delimited frames:
//
//	data: {"type":"delta","data":"Hi "}
//
//	data: {"type":"finish","data":{}}
//
//	data: [DONE]
//
// Only data lines are meaningful. Every payload is a JSON object with a
// "type" discriminator and an opaque "data" member. The literal [DONE]
// sentinel ends the stream.
//
// # Decoding
//
// Decode returns an iterator over parsed events:
//
//	for ev, err := range sse.Decode(ctx, resp.Body, sse.WithIdleTimeout(time.Minute)) {
//	    if err != nil {
//	        return err
//	    }
//	    handle(ev)
//	}
//
// Chunks from the transport do not need to line up with frame boundaries;
// the decoder buffers the trailing partial line until the next read. A frame
// that is not valid JSON, or that lacks a type, is dropped and decoding
// continues.
//
// # Resource Release
//
// The body is closed when the iterator finishes, when the consumer breaks out
// of the loop, when ctx is cancelled, and when the idle timeout fires. The
// iterator is single use: ranging over it twice reads from a closed body.
package sse
