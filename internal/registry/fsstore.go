package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FSStore is a filesystem-backed Registry. Layout: one blob plus one
// metadata record per version under <root>/<family>/:
//
//	<root>/<family>/v000001.bin
//	<root>/<family>/v000001.json
//
// The in-memory index is rebuilt from the metadata files on Open, so the
// directory tree is the durable source of truth other tooling can read.
type FSStore struct {
	root  string
	clock func() time.Time

	mu       sync.RWMutex
	families map[string]*familyIndex
}

// familyIndex tracks one family's versions. Its mutex is the critical
// section around version assignment: Put for the same family is
// serialized here while other families proceed concurrently.
type familyIndex struct {
	mu       sync.Mutex
	versions map[int]Metadata
	byHash   map[string]int
	latest   int
}

// Open creates or reopens a filesystem store rooted at dir
func Open(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry root: %w", err)
	}

	s := &FSStore{
		root:     dir,
		clock:    time.Now,
		families: make(map[string]*familyIndex),
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock overrides artifact timestamping (for tests)
func (s *FSStore) SetClock(clock func() time.Time) {
	s.clock = clock
}

// scan rebuilds the index from metadata files on disk
func (s *FSStore) scan() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to read registry root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		family := entry.Name()
		idx := newFamilyIndex()

		metaFiles, err := filepath.Glob(filepath.Join(s.root, family, "v*.json"))
		if err != nil {
			return err
		}
		for _, path := range metaFiles {
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			var meta Metadata
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("corrupt metadata %s: %w", path, err)
			}
			idx.versions[meta.Version] = meta
			idx.byHash[meta.ContentHash] = meta.Version
			if meta.Version > idx.latest {
				idx.latest = meta.Version
			}
		}

		if len(idx.versions) > 0 {
			s.families[family] = idx
		}
	}
	return nil
}

func newFamilyIndex() *familyIndex {
	return &familyIndex{
		versions: make(map[int]Metadata),
		byHash:   make(map[string]int),
	}
}

func (s *FSStore) family(name string, create bool) *familyIndex {
	s.mu.RLock()
	idx, ok := s.families[name]
	s.mu.RUnlock()
	if ok || !create {
		return idx
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok = s.families[name]; ok {
		return idx
	}
	idx = newFamilyIndex()
	s.families[name] = idx
	return idx
}

// ContentHash returns the identity hash of a blob. Identity is the state
// bytes only; metadata is deliberately excluded so re-training that
// reproduces identical state dedups to the existing version.
func ContentHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func (s *FSStore) Put(ctx context.Context, family string, blob []byte, meta Metadata) (int, error) {
	if err := validateFamily(family); err != nil {
		return 0, err
	}
	idx := s.family(family, true)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash := ContentHash(blob)
	if existing, ok := idx.byHash[hash]; ok {
		return existing, nil
	}

	version := idx.latest + 1
	final := s.finalize(meta, family, version, hash)
	if err := s.write(family, version, blob, final); err != nil {
		return 0, err
	}

	idx.versions[version] = final
	idx.byHash[hash] = version
	idx.latest = version
	return version, nil
}

func (s *FSStore) PutVersion(ctx context.Context, family string, version int, blob []byte, meta Metadata) error {
	if err := validateFamily(family); err != nil {
		return err
	}
	if version <= 0 {
		return fmt.Errorf("version must be positive, got %d", version)
	}
	idx := s.family(family, true)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash := ContentHash(blob)
	if existing, ok := idx.versions[version]; ok {
		if existing.ContentHash == hash {
			return nil
		}
		return fmt.Errorf("%w: family %q version %d already stored with different content", ErrConflict, family, version)
	}

	final := s.finalize(meta, family, version, hash)
	if err := s.write(family, version, blob, final); err != nil {
		return err
	}

	idx.versions[version] = final
	idx.byHash[hash] = version
	if version > idx.latest {
		idx.latest = version
	}
	return nil
}

// finalize stamps the store-owned metadata fields
func (s *FSStore) finalize(meta Metadata, family string, version int, hash string) Metadata {
	meta.Family = family
	meta.Version = version
	meta.ContentHash = hash
	meta.CreatedAt = s.clock().UTC()
	return meta
}

// write persists blob then metadata. The metadata file lands last so a
// version is only visible in a rebuilt index once both files exist.
func (s *FSStore) write(family string, version int, blob []byte, meta Metadata) error {
	dir := filepath.Join(s.root, family)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create family dir: %w", err)
	}

	blobPath := filepath.Join(dir, versionFile(version, "bin"))
	if err := os.WriteFile(blobPath, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metaPath := filepath.Join(dir, versionFile(version, "json"))
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func versionFile(version int, ext string) string {
	return fmt.Sprintf("v%06d.%s", version, ext)
}

func validateFamily(family string) error {
	if family == "" || strings.ContainsAny(family, `/\`) {
		return fmt.Errorf("invalid artifact family %q", family)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, family string, version int) (*Artifact, error) {
	idx := s.family(family, false)
	if idx == nil {
		return nil, fmt.Errorf("%w: family %q", ErrNotFound, family)
	}

	idx.mu.Lock()
	meta, ok := idx.versions[version]
	idx.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: family %q version %d", ErrNotFound, family, version)
	}

	blob, err := os.ReadFile(filepath.Join(s.root, family, versionFile(version, "bin")))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob for %s v%d: %w", family, version, err)
	}
	return &Artifact{Meta: meta, Blob: blob}, nil
}

func (s *FSStore) Latest(ctx context.Context, family string) (*Artifact, error) {
	idx := s.family(family, false)
	if idx == nil {
		return nil, fmt.Errorf("%w: family %q", ErrNotFound, family)
	}

	idx.mu.Lock()
	latest := idx.latest
	idx.mu.Unlock()
	if latest == 0 {
		return nil, fmt.Errorf("%w: family %q has no versions", ErrNotFound, family)
	}
	return s.Get(ctx, family, latest)
}

func (s *FSStore) List(ctx context.Context, family string) ([]Metadata, error) {
	idx := s.family(family, false)
	if idx == nil {
		return nil, fmt.Errorf("%w: family %q", ErrNotFound, family)
	}

	idx.mu.Lock()
	out := make([]Metadata, 0, len(idx.versions))
	for _, meta := range idx.versions {
		out = append(out, meta)
	}
	idx.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
