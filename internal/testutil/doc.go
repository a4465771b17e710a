// Package testutil provides shared test fixtures and assertion helpers:
// random credentials, PKCE pairs, and pre-filled storage records.
package testutil
