package instrumentation

import (
	"context"
	"testing"
)

func testMetrics(t *testing.T) *Metrics {
	t.Helper()

	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst.Metrics()
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	metrics := testMetrics(t)

	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode int
		durationMs float64
	}{
		{"successful GET", "GET", "/authorize", 302, 123.45},
		{"successful POST", "POST", "/token", 200, 234.56},
		{"bad request", "POST", "/token", 400, 45.67},
		{"server error", "POST", "/register", 500, 567.89},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, tt.durationMs)
		})
	}
}

func TestMetrics_RecordGrantFlow(t *testing.T) {
	ctx := context.Background()
	metrics := testMetrics(t)

	metrics.RecordClientRegistration(ctx, "public")
	metrics.RecordClientRegistration(ctx, "confidential")

	metrics.RecordCodeIssued(ctx, "test-client-1", "S256")
	metrics.RecordCodeIssued(ctx, "test-client-2", "plain")

	metrics.RecordCodeExchange(ctx, "test-client-1", "S256")
	metrics.RecordCodeExchange(ctx, "test-client-2", "plain")

	metrics.RecordTokenRefresh(ctx, "test-client-1")

	metrics.RecordTokenVerification(ctx, true)
	metrics.RecordTokenVerification(ctx, false)
}

func TestMetrics_RecordSecurityEvents(t *testing.T) {
	ctx := context.Background()
	metrics := testMetrics(t)

	metrics.RecordRateLimitExceeded(ctx, "ip")
	metrics.RecordPKCEValidationFailed(ctx, "S256")
	metrics.RecordCodeReuseDetected(ctx)
	metrics.RecordTokenReuseDetected(ctx)
	metrics.RecordAuditEvent(ctx, "token_issued")
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	ctx := context.Background()
	metrics := testMetrics(t)

	metrics.RecordStorageOperation(ctx, "save_code", "success", 1.2)
	metrics.RecordStorageOperation(ctx, "get_client", "error", 0.4)
}
