// Package registry persists versioned, immutable model artifacts. Each
// artifact is a serialized model state blob plus a metadata record keyed
// by (family, version); versions are strictly increasing positive
// integers per family with no gaps under sequential writes, and a stored
// artifact is never mutated; corrections get a new version.
package registry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound marks lookups of unknown families or versions
	ErrNotFound = errors.New("registry: artifact not found")
	// ErrConflict marks an explicit-version put whose content differs
	// from what is already stored at that version
	ErrConflict = errors.New("registry: version conflict")
)

// WindowBounds records the exact training window an artifact was trained
// against, both as time-index positions and as timestamps.
type WindowBounds struct {
	Index      int       `json:"index"`
	TrainStart int       `json:"train_start"`
	TrainEnd   int       `json:"train_end"`
	ValStart   int       `json:"val_start"`
	ValEnd     int       `json:"val_end"`
	TrainFrom  time.Time `json:"train_from"`
	TrainUntil time.Time `json:"train_until"`
	ValFrom    time.Time `json:"val_from"`
	ValUntil   time.Time `json:"val_until"`
}

// Metadata is the immutable descriptive record stored next to each blob.
// These fields are the compatibility contract downstream scoring and
// audit tooling relies on.
type Metadata struct {
	Family         string             `json:"family"`
	Version        int                `json:"version"`
	SchemaVersion  string             `json:"schema_version"`
	TrainingWindow WindowBounds       `json:"training_window"`
	Metrics        map[string]float64 `json:"metrics_snapshot"`
	ContentHash    string             `json:"content_hash"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Artifact is a stored blob with its metadata
type Artifact struct {
	Meta Metadata
	Blob []byte
}

// Registry is the artifact store contract. Put for the same family is
// serialized internally so concurrent writers never assign the same
// version; reads need no external locking.
type Registry interface {
	// Put stores a blob under the next version for the family (starting
	// at 1) and returns the assigned version. When the blob's content
	// hash matches an already-stored version of the family the call is an
	// idempotent no-op returning the existing version.
	Put(ctx context.Context, family string, blob []byte, meta Metadata) (int, error)

	// PutVersion stores a blob at an explicit version. Re-putting
	// identical content is a no-op; differing content fails with
	// ErrConflict.
	PutVersion(ctx context.Context, family string, version int, blob []byte, meta Metadata) error

	// Get returns the artifact at (family, version) or ErrNotFound
	Get(ctx context.Context, family string, version int) (*Artifact, error)

	// Latest returns the highest successfully stored version for the
	// family or ErrNotFound
	Latest(ctx context.Context, family string) (*Artifact, error)

	// List returns version metadata for the family in ascending version
	// order, without blobs
	List(ctx context.Context, family string) ([]Metadata, error)
}
