// Package experiment implements the experiment lifecycle: creating draft
// experiments, editing their configuration, and driving status transitions
// (draft → running → paused → running → completed).
//
// The package owns the lifecycle rules; persistence is behind the
// Repository interface so the service can be unit-tested with an in-memory
// implementation.
package experiment
