/*
Package observability provides monitoring for the journey engine.

It turns engine lifecycle hooks and worker pool delivery hooks into Prometheus
metrics and structured log lines.
*/
package observability
