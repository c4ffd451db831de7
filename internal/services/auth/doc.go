// Package auth owns account lifecycle for the three tenant databases.
//
// Subpackages:
//   - app: runtime wiring for the HTTP API and the gRPC health endpoint
//   - httpapi: chi routes, middleware, and the JSON envelope
//   - service: registration, login, token refresh, and password flows
//   - tenant: role to database routing with connection health
//   - storage: store contract plus sqlite and postgres implementations
//   - token: access and refresh JWTs
//   - revocation: revoked token identifiers in memory or Redis
//   - ratelimit: fixed-window and token-bucket request limiters
//   - mail: transactional email templates and SMTP delivery
//   - user: account model and input validation
package auth
