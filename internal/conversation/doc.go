// Package conversation runs chat turns: it turns an utterance (text or
// audio, in any language) into a grounded answer by transcribing,
// translating into the pivot language, retrieving references from the
// project's vector partition, generating with the project's model and
// persisting the turn.
//
// Every turn reserves its nonce before any expensive work. Failures before
// generation abort the turn with no side effects; a failed stream is never
// persisted.
package conversation
