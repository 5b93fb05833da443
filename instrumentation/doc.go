// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the sallyport-auth library.
//
// It enables observability across all library layers through:
//   - Metrics: counters, histograms, and gauges for grant-flow operations
//   - Traces: distributed tracing for request flows across components
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "sallyport-auth",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP Layer:
//   - auth.http.requests.total{method, endpoint, status}
//   - auth.http.request.duration{endpoint}
//
// Grant Flows:
//   - auth.authorization.requests{client_id, granted}
//   - auth.consent.required{client_id}
//   - auth.code.exchanged{client_id, pkce_method}
//   - auth.token.refreshed{client_id, rotated}
//   - auth.token.revoked{token_type}
//   - auth.client.registered{client_type}
//
// Security:
//   - auth.rate_limit.exceeded{limiter_type}
//   - auth.pkce.validation_failed{method}
//   - auth.code.reuse_detected
//   - auth.token.reuse_detected
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.clients.count, storage.codes.count,
//     storage.refresh_tokens.count, storage.revoked_ids.count
//
// # Performance
//
// When instrumentation is not configured or disabled the no-op providers are
// used and there is no overhead.
//
// # Security Considerations
//
// Never record actual token values, client secrets, or PKCE verifiers in
// traces or metrics. Only metadata (token types, expiry times, validation
// results) is safe to record.
package instrumentation
