// Package store defines interfaces for data persistence operations.
// The TaskStore interface is the narrow operation set through which every
// component touches task state, so the state machine's conditional
// transitions stay enforced in one place regardless of the SQL engine.
package store
