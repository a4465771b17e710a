// Package security provides the cross-cutting security features of the
// authorization server: audit logging with PII hashing, per-IP rate
// limiting, client IP extraction behind proxies, security response headers,
// request ID propagation, and clock-skew tolerant expiry checks.
package security
