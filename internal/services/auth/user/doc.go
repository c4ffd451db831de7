// Package user defines the account model shared by every tenant.
//
// It owns role parsing, input validation and the lockout rule so storage
// backends and transports agree on what a valid account looks like.
package user
