/*
Package types defines the core data structures shared across the storage gateway:
upload sessions and parts (C1), search index entries and dirty-queue rows (C2),
driver capability sets (C3), and background job records (C8).

# Architecture Overview

The gateway exposes a single virtual filesystem over heterogeneous backends:

	┌───────────────────────────────────────────┐
	│         HTTP / WebDAV router (external)    │
	└───────────────────────────────────────────┘
	                      │
	┌──────────────┐  ┌───┴────────┐  ┌─────────────┐
	│ internal/upload│ │internal/fsfacade│ │internal/task│
	│   (C6)         │ │   (C7)          │ │  (C8/C9)    │
	└──────┬─────────┘  └───┬─────────┘  └──────┬──────┘
	       │                │                   │
	┌──────┴────────────────┴───────────────────┴──────┐
	│            internal/driver (C3 capability set)    │
	└──────┬───────────────────────────────────┬────────┘
	       │                                   │
	┌──────┴───────┐                   ┌───────┴────────┐
	│ driver/s3 (C4)│                   │driver/telegram │
	└───────────────┘                   │   (C5)         │
	                                     └────────────────┘

internal/session (C1) and internal/searchindex (C2) are the durable stores
consulted by the coordinator, the facade, and the index job handlers.

This package holds the types that cross those package boundaries: Session,
Part, Fingerprint, Entry, DirtyItem, MountIndexState, Job, and the Capability
set, so that no two packages redeclare the same wire shape.
*/
package types
