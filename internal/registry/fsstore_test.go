package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	store.SetClock(func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return store
}

func testMeta(windowIndex int) Metadata {
	return Metadata{
		SchemaVersion: "v2",
		TrainingWindow: WindowBounds{
			Index:      windowIndex,
			TrainStart: windowIndex * 20,
			TrainEnd:   windowIndex*20 + 200,
			ValStart:   windowIndex*20 + 201,
			ValEnd:     windowIndex*20 + 221,
		},
		Metrics: map[string]float64{"mse": 0.01 * float64(windowIndex+1)},
	}
}

func TestPut_VersionsStrictlyIncreaseFromOne(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		version, err := store.Put(ctx, "gbst", []byte(fmt.Sprintf("state-%d", i)), testMeta(i))
		require.NoError(t, err)
		assert.Equal(t, i+1, version, "versions must be gapless from 1 under sequential puts")
	}

	metas, err := store.List(ctx, "gbst")
	require.NoError(t, err)
	require.Len(t, metas, 5)
	for i, meta := range metas {
		assert.Equal(t, i+1, meta.Version)
		assert.Equal(t, "gbst", meta.Family)
		assert.Equal(t, "v2", meta.SchemaVersion)
		assert.NotEmpty(t, meta.ContentHash)
		assert.False(t, meta.CreatedAt.IsZero())
	}
}

func TestPut_IdenticalContentDedups(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	blob := []byte("identical-state")
	v1, err := store.Put(ctx, "gbst", blob, testMeta(0))
	require.NoError(t, err)
	v2, err := store.Put(ctx, "gbst", blob, testMeta(1))
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "byte-identical content must return the existing version")

	metas, err := store.List(ctx, "gbst")
	require.NoError(t, err)
	assert.Len(t, metas, 1, "no duplicate storage")
}

func TestPutVersion_ConflictOnDifferentContent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutVersion(ctx, "gbst", 3, []byte("state-a"), testMeta(0)))

	// identical content is an idempotent no-op
	require.NoError(t, store.PutVersion(ctx, "gbst", 3, []byte("state-a"), testMeta(0)))

	err := store.PutVersion(ctx, "gbst", 3, []byte("state-b"), testMeta(1))
	assert.ErrorIs(t, err, ErrConflict)

	// auto-assignment continues past the explicit version
	v, err := store.Put(ctx, "gbst", []byte("state-c"), testMeta(2))
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestGetAndLatest(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "gbst", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Latest(ctx, "gbst")
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 3; i++ {
		_, err := store.Put(ctx, "gbst", []byte(fmt.Sprintf("state-%d", i)), testMeta(i))
		require.NoError(t, err)
	}

	artifact, err := store.Get(ctx, "gbst", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("state-1"), artifact.Blob)
	assert.Equal(t, 2, artifact.Meta.Version)

	latest, err := store.Latest(ctx, "gbst")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Meta.Version, "latest resolves to the highest stored version")

	_, err = store.Get(ctx, "gbst", 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "unknown", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImmutableLayoutOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "seqnet", []byte("state"), testMeta(0))
	require.NoError(t, err)

	// one blob plus one metadata record per (family, version)
	assert.FileExists(t, filepath.Join(dir, "seqnet", "v000001.bin"))
	assert.FileExists(t, filepath.Join(dir, "seqnet", "v000001.json"))
}

func TestOpen_RebuildsIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	blob := []byte("persisted-state")
	v, err := store.Put(ctx, "gbst", blob, testMeta(0))
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)

	latest, err := reopened.Latest(ctx, "gbst")
	require.NoError(t, err)
	assert.Equal(t, v, latest.Meta.Version)
	assert.Equal(t, blob, latest.Blob)

	// dedup index survives reopen
	again, err := reopened.Put(ctx, "gbst", blob, testMeta(1))
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestPut_FamiliesAreIndependent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	v1, err := store.Put(ctx, "gbst", []byte("a"), testMeta(0))
	require.NoError(t, err)
	v2, err := store.Put(ctx, "seqnet", []byte("b"), testMeta(0))
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 1, v2, "each family versions independently from 1")
}

func TestPut_ConcurrentSameFamily(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	const writers = 16
	versions := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.Put(ctx, "gbst", []byte(fmt.Sprintf("state-%d", i)), testMeta(i))
			assert.NoError(t, err)
			versions[i] = v
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, v := range versions {
		assert.False(t, seen[v], "no two writers may receive the same version")
		seen[v] = true
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, writers)
	}
}

func TestValidateFamily(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "", []byte("x"), Metadata{})
	assert.Error(t, err)
	_, err = store.Put(ctx, "../escape", []byte("x"), Metadata{})
	assert.Error(t, err)
}

func TestContentHash_IsStateBytesOnly(t *testing.T) {
	h1 := ContentHash([]byte("same"))
	h2 := ContentHash([]byte("same"))
	h3 := ContentHash([]byte("different"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
