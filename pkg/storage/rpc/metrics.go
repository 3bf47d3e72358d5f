package rpc

import "github.com/docker/go-metrics"

// One docker/go-metrics namespace per subsystem, registered once at
// package init, with package-level counters/timers declared alongside it.
var namespace = metrics.NewNamespace("spfs", "rpc", nil)

var (
	requestsTotal = namespace.NewLabeledCounter("requests_total", "The number of RPC requests handled, by service and method", "service", "method")
	requestErrors = namespace.NewLabeledCounter("request_errors_total", "The number of RPC requests that failed, by service and method", "service", "method")
	requestLatency = namespace.NewLabeledTimer("request_duration_seconds", "RPC request handling latency, by service and method", "service", "method")
)

func init() {
	metrics.Register(namespace)
}
