package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

// DefaultLimit is the number of matches returned when Search gets limit <= 0.
const DefaultLimit = 100

var (
	// ErrInvalidPartition indicates a partition name that cannot be mapped
	// to a backend collection.
	ErrInvalidPartition = errors.New("invalid partition name")

	// ErrLengthMismatch indicates vectors and texts of different lengths.
	ErrLengthMismatch = errors.New("vectors and texts differ in length")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Record is one chunk to be stored.
type Record struct {
	ID      string
	Vector  []float32
	Text    string
	Subject string
}

// Match is one search hit, ordered by descending Score.
type Match struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Subject string  `json:"subject"`
	Score   float32 `json:"score"`
}

// Store is a partitioned nearest-neighbor index.
type Store interface {
	// EnsurePartition creates the partition if it does not exist.
	EnsurePartition(ctx context.Context, partition string) error

	// Insert upserts records into partition. Records with an existing id
	// replace the stored one.
	Insert(ctx context.Context, partition string, records []Record) error

	// Search returns up to limit matches closest to embedding. limit <= 0
	// means DefaultLimit. A missing or empty partition yields no matches.
	Search(ctx context.Context, embedding []float32, partition string, limit int) ([]Match, error)

	// DeleteSubject removes every record tagged with subject.
	DeleteSubject(ctx context.Context, subject, partition string) error

	// DeletePartition removes the partition and all of its records.
	DeletePartition(ctx context.Context, partition string) error

	// Count returns the number of records in partition.
	Count(ctx context.Context, partition string) (int, error)

	Close() error
}

// RecordID returns the deterministic id of chunk index of subject.
func RecordID(subject string, index int) string {
	return fmt.Sprintf("%s_%d", subject, index)
}

// Records pairs vectors with their texts. Ids start at offset so batches
// of one subject get consecutive indexes.
func Records(subject string, offset int, vectors [][]float32, texts []string) ([]Record, error) {
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d vectors, %d texts", ErrLengthMismatch, len(vectors), len(texts))
	}
	out := make([]Record, len(vectors))
	for i := range vectors {
		out[i] = Record{
			ID:      RecordID(subject, offset+i),
			Vector:  vectors[i],
			Text:    texts[i],
			Subject: subject,
		}
	}
	return out, nil
}

var (
	collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)
	unsafeChars           = regexp.MustCompile(`[^a-z0-9_]`)
)

// CollectionName maps a partition to a backend collection name matching
// ^[a-z0-9_]{1,64}$. Hyphens and other characters become underscores.
func CollectionName(prefix, partition string) (string, error) {
	if strings.TrimSpace(partition) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPartition)
	}
	name := unsafeChars.ReplaceAllString(strings.ToLower(partition), "_")
	if prefix != "" {
		name = prefix + "_" + name
	}
	if !collectionNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return name, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func retrievalError(op string, err error) error {
	return errkind.E(errkind.Retrieval, op, err)
}
