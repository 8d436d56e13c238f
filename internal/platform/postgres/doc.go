// Package postgres provides PostgreSQL-backed implementations of the store
// interfaces, plus the embedded schema migrations and the mapping from
// database errors to store errors.
package postgres
