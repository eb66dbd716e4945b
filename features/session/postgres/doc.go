// Package postgres provides a PostgreSQL-backed implementation of the
// Conversation State Store (runtime/agent/session.Store). Build the
// low-level client via features/session/postgres/clients/postgres and pass
// it to NewStore.
package postgres
