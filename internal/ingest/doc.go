// Package ingest implements the fast-ingest path: persist the uploaded
// artifact at its canonical location, insert a pending task and return.
// No enrichment work happens here; the background workers pick the task up.
package ingest
