// Package redis provides a Redis-backed implementation of all storage
// interfaces, suitable for horizontally scaled deployments where several
// server instances must share clients, codes and refresh tokens.
//
// Key features:
//   - Automatic TTL-based expiration for codes and refresh tokens
//   - Atomic single-use redemption via GETDEL
//   - Per-IP registration counters with daily reset
//
// Key layout:
//
//	{prefix}client:{clientID}    -> JSON client record (no TTL)
//	{prefix}client:ip:{ip}       -> registration count (24h TTL)
//	{prefix}code:{code}          -> JSON authorization code (TTL = code lifetime)
//	{prefix}refresh:{token}      -> JSON refresh token (TTL = token lifetime)
//
// Atomicity: GetAndDeleteAuthorizationCode and GetAndDeleteRefreshToken use
// the GETDEL command, so when two instances race on the same credential
// exactly one wins even without any shared locks.
package redis
