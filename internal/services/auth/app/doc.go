// Package server composes and runs the auth process boundary.
//
// It serves the JSON API over HTTP and a gRPC health endpoint that reports
// each tenant database as its own service.
package server
