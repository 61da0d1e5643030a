// Package observability provides an extension that counts job lifecycle
// events with OpenTelemetry metrics.
//
//	reg.Register(observability.NewMetricsExtension())
package observability
