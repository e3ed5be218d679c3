// Package otel publishes goOTP engine metrics through an OpenTelemetry meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per verify latency bucket. The caller owns the
// MeterProvider and its readers.
package otel
