// Package postgres provides the PostgreSQL dialect for the task store: it opens
// pgx-backed database/sql pools, rewrites placeholders and maps pgconn error
// codes onto the store package's sentinel errors.
package postgres
