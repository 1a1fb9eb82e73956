// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It adapts the ingest service, the task store and
// the toggle registry to the capture client's HTTP surface.
package api
