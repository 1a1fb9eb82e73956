// Package sqlstore implements the task store on database/sql. The same SQL
// serves SQLite and PostgreSQL; a Dialect supplies placeholder rewriting and
// error mapping, and embedded goose migrations create the schema.
//
// Every operation runs under a bounded retry policy so contention from a
// single-writer engine is absorbed before it reaches callers.
package sqlstore
