/*
Package fsfacade implements the VFS Facade (C7). It resolves a mount id to
the driver backing its storage_config (via internal/driver's Registry),
performs the requested operation, and on success emits a cache-invalidation
event that gets mapped into one or more search-index dirty-queue rows.

# Event Mapping

  - rename {oldPath, newPath} -> delete(oldPath), upsert(newPath)
  - batch-remove {paths} -> one delete row per path
  - anything else with more than 200 paths -> a single upsert of the
    paths' common directory prefix, to avoid dirty-queue amplification on
    large batches
  - anything else -> one upsert row per path

DirectoryInvalidationPaths implements the companion directory-level
collapse: each path is normalized to its containing directory, deduplicated,
and degrades to a mount-wide invalidation (nil/empty path list) once more
than 200 distinct directories would otherwise be touched.

The in-process EntryCache is consulted before Stat calls reach the driver
and invalidated directly (not inferred from write traffic) by every
mutating method.
*/
package fsfacade
