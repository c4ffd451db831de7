// Package sqlite provides SQLite-backed tenant persistence.
//
// Each tenant gets its own database file. It is the default store for local
// development and tests.
package sqlite
