// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// Instrumentation is optional everywhere: components hold a nil-able
// *Instrumentation and guard every use, so a server built without it pays
// nothing. When constructed with Enabled false, no-op providers are used and
// all instruments are still safe to call.
//
// Meters and tracers are scoped per layer ("http", "server", "storage",
// "security") so exported telemetry can be filtered by origin.
//
// Metric values never include credentials. Attributes are limited to
// identifiers and categorical metadata such as client IDs, grant types and
// PKCE methods.
package instrumentation
