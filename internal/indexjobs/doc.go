// Package indexjobs implements the two Background Job Engine handlers that
// maintain the search index (C9): a full rebuild and a dirty-queue apply,
// both built over internal/searchindex (C2) and internal/fsfacade (C7).
package indexjobs
