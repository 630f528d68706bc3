// Package fakeapi implements both remote services in memory: the
// conversation-state service and the cloud thread registry. It backs HTTP
// level tests and the fake-backend development server.
//
//	srv := fakeapi.New(fakeapi.WithToken("secret"))
//	ts := httptest.NewServer(srv.Handler())
//	defer ts.Close()
//
// Thread ids are minted as t1, t2, ... and registry ids as reg-1, reg-2, ...
// so tests can name them directly.
//
// # Streams
//
// POST /threads/{id}/stream echoes the last user message word by word as
// delta events, then sends finish and [DONE]. SetScript replaces that with
// fixed frames for a thread.
//
// # Failure Injection
//
// Fail makes a route answer with a fixed status until Recover is called:
//
//	srv.Fail(http.MethodDelete, "/threads/t2", http.StatusInternalServerError)
//
// Calls lists every request received, in order.
//
// # Authentication
//
// WithToken requires one fixed bearer token. WithVerifier instead verifies
// HS256 JWTs through auth.HTTPMiddleware; thread searches by non-admin
// callers are then narrowed to their own user_id, as the real service does.
package fakeapi
