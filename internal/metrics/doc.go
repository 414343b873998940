/*
Package metrics provides Prometheus-based metrics collection for the storage
gateway: driver operations (C3/C4/C5), multipart session lifecycle (C1/C6),
the FS facade's metadata cache (C7), and the background job engine (C8/C9).

# Overview

Collector is the main aggregator. It exports live Prometheus metrics over an
HTTP endpoint and keeps a small internal per-operation rollup for the
/debug/* endpoints. DetailedPerformanceMetrics is a separate, non-Prometheus
tracker for per-fsPath hot-path analysis — fsPath has unbounded cardinality,
so it is capped and tracked outside the Prometheus label space rather than
risking cardinality blowup on a label.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "storagegateway",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording gateway operations

	start := time.Now()
	info, err := driver.Stat(ctx, fsPath)
	collector.RecordOperation("fs.stat", time.Since(start), 0, err == nil)

# Recording background jobs (C8/C9)

	start := time.Now()
	result, err := handler.Run(ctx, job)
	collector.RecordJob(job.Type, time.Since(start), err == nil)

The progress gauges are keyed by job id, so each one tracks a single run
rather than a lifetime total:

	collector.SetIndexProgress(job.ID, job.Type, scannedDirs, discoveredCount)
	defer collector.ClearIndexProgress(job.ID, job.Type)

# Prometheus metrics

Counters:
  - storagegateway_operations_total{operation,status}
  - storagegateway_jobs_total{job_type,status}
  - storagegateway_cache_requests_total{type,source}
  - storagegateway_errors_total{operation,type}

Histograms:
  - storagegateway_operation_duration_seconds{operation}
  - storagegateway_operation_size_bytes{operation}
  - storagegateway_job_duration_seconds{job_type}

Gauges:
  - storagegateway_jobs_active{job_type}
  - storagegateway_index_scanned_dirs{job_id,job_type}
  - storagegateway_index_discovered_total{job_id,job_type}
  - storagegateway_cache_size_entries{level}
  - storagegateway_active_connections

# HTTP endpoints

/metrics serves the Prometheus exposition format. /health is a plain
liveness check. /debug/metrics and /debug/operations render the internal
per-operation rollup as JSON and a table, respectively, without requiring a
Prometheus server.

# Cardinality

job_id labels are removed via ClearIndexProgress once a run finishes so the
gauge set does not grow without bound across the lifetime of the process.
fsPath is never a Prometheus label for the same reason; use
DetailedPerformanceMetrics.GetTopPaths for that view instead.
*/
package metrics
