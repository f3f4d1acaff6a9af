// Package embeddings turns text into fixed-dimension vectors.
//
// Three providers are available: OpenAI (via langchaingo, also usable with
// any OpenAI-compatible embedding server through BaseURL), Gemini, and
// FastEmbed (local ONNX models, cgo builds only). NewProvider selects one
// from configuration and wraps it with OpenTelemetry metrics.
package embeddings
