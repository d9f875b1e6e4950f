// Package identity is Lyceum's user directory: the authoritative source for a user's role and
// active flag. Tokens only name a subject; everything else is resolved here on every handshake.
//
// Stores follow the same shape as the rest of the runtime: an interface at the boundary,
// an in-memory implementation for dev and tests, and a pgx implementation for production.
package identity
