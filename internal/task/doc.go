// Package task runs the background workers that drain the capture task queue.
//
// One Worker runs per artifact kind. Each loop iteration either waits (kind
// disabled or queue empty), or claims one task under the adaptive FIFO/LIFO
// policy and drives it through that kind's enrichment Pipeline. The processing
// generation is re-read before every stage so that disabling processing
// cancels in-flight work at the next stage boundary. Processing rows left by
// a crash are reset to pending when the worker starts; there is no periodic
// probe for stuck tasks.
package task
