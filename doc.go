// Package oauth provides the HTTP surface of the authorization server.
//
// It is a thin adapter: each endpoint decodes the request, lets the server
// package do the work, and encodes the result. Wire a Handler into any
// http.ServeMux with Routes:
//
//	srv, _ := server.New(resolver, store, store, store, config, logger)
//	handler := oauth.NewHandler(srv, logger)
//
//	mux := http.NewServeMux()
//	handler.Routes(mux)
//
// Endpoints:
//
//	GET  /.well-known/oauth-authorization-server  discovery metadata (RFC 8414)
//	GET  /.well-known/openid-configuration        same metadata, OIDC path
//	POST /register                                dynamic client registration (RFC 7591)
//	GET  /authorize                               authorization endpoint
//	POST /token                                   token endpoint
//
// Discovery, registration and token endpoints answer cross-origin requests
// from any origin, since agent clients run in unpredictable places. The
// authorization endpoint is browser-navigated and sends no CORS headers.
//
// Resource servers protect their routes with RequireAccessToken, which
// verifies the bearer token and exposes the grant via GrantFromContext.
package oauth
