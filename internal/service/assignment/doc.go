// Package assignment routes sessions into experiment variants and tracks
// exposure.
//
// Assignment is deterministic (a session's bucket is a pure function of its
// identifier), idempotent (the first persisted row wins, concurrent
// assignment races collapse to one row), and fail-open (a persistence outage
// never blocks the caller from getting a variant — the computed variant is
// returned unpersisted and the failure is logged).
package assignment
