package exporters

import (
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
)

// NewConsoleExporter writes spans to stdout for local development.
func NewConsoleExporter(pretty bool) (trace.SpanExporter, error) {
	opts := []stdouttrace.Option{}
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	return stdouttrace.New(opts...)
}
