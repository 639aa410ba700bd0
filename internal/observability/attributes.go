// Package observability exposes pipeline metrics through a Prometheus
// endpoint backed by OpenTelemetry instruments.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	attrStage   = "stage"
	attrOutcome = "outcome"
	attrClass   = "class"
	attrResult  = "result"
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
)

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func classAttr(class string) attribute.KeyValue {
	return attribute.String(attrClass, class)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

// normalizePath keeps the API route and drops anything after it, so job
// URLs passed in paths do not explode cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/jobs/"):
		return "/api/jobs/{url}"
	case path == "":
		return "/"
	}
	return path
}
