// Package gemini provides enrich.VisionDescriber and enrich.Embedder
// implementations backed by Google's Gemini API.
//
// This package is an infrastructure adapter, connecting the worker's pipeline
// to the external Gemini service without exposing google.golang.org/genai
// types to the rest of the application. Rate limits and server errors are
// retried with backoff; anything else, or an exhausted budget, fails the call
// and the worker decides what happens next.
package gemini
