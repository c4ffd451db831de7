// Package storage defines persistence contracts for tenant account data.
//
// Handlers and the auth service depend on these interfaces; the sqlite and
// postgres packages provide the backends.
package storage
