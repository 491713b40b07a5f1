// Package storage is the SQLite persistence layer.
//
// It owns the four durable entities: scheduled jobs, group aliases,
// correlation windows, and owner reply sessions (plus the transient
// pending-schedule slot for the two-step schedule flow).
//
// All timestamps are stored as unix milliseconds in UTC. Every job status
// transition goes through a compare-and-set so the cancel-vs-fire race
// resolves to exactly one terminal state.
package storage
