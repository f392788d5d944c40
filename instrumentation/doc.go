// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the studybot library.
//
// It exposes metrics for the token lifecycle (refreshes, code exchanges),
// outbound provider API calls, and storage operations, plus an observable
// gauge for the number of stored accounts. When disabled, no-op providers
// are used so instrumentation has zero overhead.
package instrumentation
