// Package server implements the core authorization server logic.
//
// The Server type coordinates dynamic client registration (RFC 7591), the
// authorization code flow with PKCE (RFC 7636), token issuance with refresh
// rotation, and stateless access token verification. It is transport
// agnostic: the root oauth package maps HTTP requests onto its operations.
//
// Every credential the server issues is bound to the user AND the workspace
// captured from the platform session at authorization time. Clients never
// choose a workspace; it travels from the session through the authorization
// code into the tokens.
//
// The Server delegates to specialized packages:
//   - Platform session lookup (identity package)
//   - Client, code and refresh token storage (storage package)
//   - Auditing, rate limiting, IP extraction (security package)
//
// Example usage:
//
//	store := memory.New()
//	resolver := identity.NewAPIResolver("https://platform.internal/api/v1/session")
//
//	config := &server.Config{
//	    Issuer:                "https://auth.example.com",
//	    LoginURL:              "https://app.example.com/login",
//	    AccessTokenSigningKey: signingKey,
//	}
//
//	srv, err := server.New(resolver, store, store, store, config, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
