/*
Package metrics provides Prometheus metrics collection and exposition for Tom.

Metrics are registered at package init and updated directly by pkg/gate,
pkg/worker and pkg/controller as they do their work; there is no separate
polling collector, since the shared Redis backend is cheap to instrument
inline rather than scrape. tom_queue_depth and tom_job_duration_seconds
are registered but no package updates them.

# Metrics Catalog

tom_queue_depth{status}: Gauge. Jobs currently in a given JobStatus.

tom_jobs_total{status}: Counter. Jobs that reached a terminal status.

tom_job_duration_seconds: Histogram. Enqueue-to-terminal job latency.

tom_device_leases_held{device_key}: Gauge. Device leases currently held;
per testable property §8.3 this must never exceed the number of distinct
devices in flight.

tom_gate_wait_duration_seconds: Histogram. Time a worker waited for
gate.Acquire to return.

tom_cache_lookups_total{status}: Counter. HIT/MISS/REFRESH/BYPASS counts.

tom_http_requests_total{route,status}: Counter. Controller HTTP requests.

tom_http_request_duration_seconds{route}: Histogram. Controller HTTP
latency.

tom_transport_sessions_total{adapter,outcome}: Counter. Transport.Open
calls by adapter and success/failure.

tom_command_duration_seconds{adapter}: Histogram. Session.Send latency.

# Usage

	timer := metrics.NewTimer()
	job, ok, err := q.Wait(ctx, id, deadline)
	timer.ObserveDuration(metrics.JobDuration)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
