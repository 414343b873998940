/*
Package config provides configuration management for the storage gateway,
with layered YAML-file and environment-variable overrides.

# Configuration Hierarchy

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (GATEWAY_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault)                         │
	└─────────────────────────────────────────────┘

# Sections

Global holds process-wide settings (log level, metrics/health ports, listen
address). Storage lists the backends a deployment has credentials for; Mounts
binds a mount id to one storage config and a root path within it.

Multipart carries the hard limits and defaults the Upload Session Coordinator
is built around: MAX_PARTS, the [5 MiB, 5 GiB] (S3) / [5 MiB, 100 MiB]
(chat-style) part size window, the signed-URL TTL, and the retry budget
single_session drivers get on top of the coordinator's own retry layer.

Index carries the Search Index tunables: the dirty-queue batch size and its
clamp, the MAX_DIRTY_OPS_PER_EVENT degrade threshold, the directory-collapse
threshold the facade uses to decide between per-path and mount-level
invalidation, and the metadata-lookup cache's size and TTL.

TaskEngine carries the background job engine's worker pool size, poll
interval, and progress-flush cadence.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("gateway.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
*/
package config
