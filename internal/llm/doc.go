// Package llm renders the grounded prompt and runs it against a chat model.
//
// A Chain is built per turn from a project's system template, which must
// contain the {reference} placeholder. Generate returns the whole answer;
// Stream returns a channel of deltas that ends with exactly one Done or
// Error event and is then closed. Provider calls go through a circuit
// breaker per provider family and fail with errkind Generation.
package llm
