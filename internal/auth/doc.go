// Package auth provides authentication and authorisation for the trend
// service.
//
// It implements a 2-tier role model (viewer → operator) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT HS256 access tokens with a pinned signing algorithm
//   - Accounts declared in the service configuration file
//
// There is no user database and no self-service registration: a trend
// tool is commissioned with a handful of accounts, and tokens are
// short-lived; expiry means logging in again. Anything that changes
// controller or session state requires the operator role; viewer
// accounts observe.
package auth
