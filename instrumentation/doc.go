// Package instrumentation provides OpenTelemetry instrumentation for the
// identity-provider front end.
//
// It wraps a meter provider and a tracer provider behind a single
// Instrumentation value, with named meters and tracers per layer ("store",
// "http"). When disabled, no-op providers are used so instrumented code
// paths carry zero overhead.
//
// WrapAdapter decorates an artifact store adapter so every operation is
// counted, timed and traced without the backends knowing about telemetry.
package instrumentation
