// Package observability provides the service's OpenTelemetry metrics,
// exported in Prometheus format.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrState   = "state"
	attrSuccess = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// collections whose second path segment is a resource identifier.
var idCollections = map[string]string{
	"transformations": "{id}",
	"mappings":        "{mappingId}",
}

// normalizePath replaces identifier segments with placeholders so paths
// stay low-cardinality:
//
//	/transformations/abc/state -> /transformations/{id}/state
func normalizePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) < 2 || segments[1] == "" {
		return path
	}
	placeholder, ok := idCollections[segments[0]]
	if !ok {
		return path
	}
	segments[1] = placeholder
	return "/" + strings.Join(segments, "/")
}

// WithState returns a metric option with the simulation state attribute.
func WithState(state string) metric.MeasurementOption {
	return metric.WithAttributes(stateAttr(state))
}

// WithSuccess returns a metric option with the success attribute.
func WithSuccess(success bool) metric.MeasurementOption {
	return metric.WithAttributes(successAttr(success))
}
