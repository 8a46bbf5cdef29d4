// Package otel exports goRotate engine metrics as OpenTelemetry observable
// instruments. Values are read from the engine snapshot on each collection;
// nothing is recorded on the request path.
package otel
