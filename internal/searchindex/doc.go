// Package searchindex is the VFS Search Index (C2): an entry table with a
// trigram-contains FTS shadow, a coalescing dirty-reconciliation queue, and
// per-mount index state tracking. Index rebuilds are tagged with an
// index_run_id; ReplaceRun retires rows from any prior run in one atomic
// sweep so a search in flight during a rebuild sees old-or-new rows but
// never a missing one.
package searchindex
