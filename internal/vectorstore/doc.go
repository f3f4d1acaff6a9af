// Package vectorstore stores line chunks as vectors in named partitions
// and answers nearest-neighbor queries by cosine similarity.
//
// Two backends implement Store: ChromemStore (embedded chromem-go,
// optionally persisted to disk) and QdrantStore (remote Qdrant over gRPC).
// NewStore picks one from configuration; callers never branch on the
// backend.
//
// Every record carries a deterministic id of the form {subject}_{index}
// (see RecordID), so re-inserting the same chunks overwrites instead of
// appending. Deletes are always scoped to a subject or a whole partition.
//
// Stores do not retry. Backend failures come back classified as
// errkind.Retrieval; ingestion decides whether to try again.
package vectorstore
