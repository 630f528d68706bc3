// Package auth holds the signed-in session used to authenticate calls to
// the conversation-state service and the thread registry.
//
// # Session Lifecycle
//
// A Session moves through three states:
//
//	Unauthenticated -> Loading -> Authenticated
//	        ^                           |
//	        +------ SignOut / expiry ---+
//
// Begin enters Loading while a token is being obtained from the identity
// provider. SignIn installs the token and enters Authenticated; a token that
// fails to parse or has already expired leaves the session Unauthenticated.
//
// Session is passed explicitly to the components that need it. It
// implements the TokenSource interface those clients expect:
//
//	session := auth.NewSession()
//	if err := session.SignIn(token); err != nil {
//	    return err
//	}
//	client := conversation.NewClient(baseURL, conversation.WithTokenSource(session))
//
// Token fails with ErrUnauthenticated outside the Authenticated state and
// with ErrExpiredToken once the exp claim passes, at which point the
// session signs itself out.
//
// # JWT Tokens
//
// Tokens are JWTs carrying sub, email, role, and exp claims. When a shared
// HS256 secret is configured, JWTVerifier checks the signature and the
// issuer. Without one, claims are decoded unverified so the client still
// knows who is signed in and when the token expires; the services verify
// the token themselves.
//
// # Serving
//
// HTTPMiddleware verifies the bearer token on incoming requests and stores
// the claims in the request context, where FromContext finds them.
// RequireAdminHTTP gates a handler on the admin role. The fake backend uses
// both to behave like the real services.
package auth
