// Package task implements the Background Job Engine (C8). A Registry maps
// task types to handlers, a Catalog maps task types to listing/retry
// policy, and an Engine polls a types.JobStore to claim and run jobs with
// cooperative cancellation and a configurable worker pool.
//
// Handlers implement the minimal types.TaskHandler contract (TaskType,
// Run); the optional Validator and StatsTemplater interfaces let a handler
// opt into payload validation and stats-template seeding without widening
// the core contract every handler must satisfy.
package task
