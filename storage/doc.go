// Package storage defines the persistence interfaces for OAuth client
// registrations, authorization codes, and refresh tokens.
//
// All state in the authorization server is either stateless (signed access
// tokens) or lives behind one of three small interfaces so that the flow
// logic is independent of the backend. The in-memory implementation
// (storage/memory) is suitable for a single instance; the Redis
// implementation (storage/redis) supports horizontal scaling and restarts.
//
// The single-use guarantees of the protocol hinge on the atomic
// get-and-delete operations: two concurrent requests presenting the same
// authorization code or refresh token must never both succeed. Every
// implementation must make GetAndDeleteAuthorizationCode and
// GetAndDeleteRefreshToken atomic.
package storage
