package archive

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampartlabs/rampart/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := Open(t.TempDir(), key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStore_SaveArtifact(t *testing.T) {
	store := newTestStore(t)

	content := `<RuleCollection Type="Exe"><FilePathRule Id="a" Name="Block Steam"/></RuleCollection>`
	id, err := store.SaveArtifact("weekly-batch", content, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := store.ArtifactContent(id)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStore_ArtifactContent_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ArtifactContent("no-such-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListArtifacts_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	ids := make([]string, 3)
	names := []string{"first", "second", "third"}
	for i, name := range names {
		id, err := store.SaveArtifact(name, "<RuleCollection/>", i+1)
		require.NoError(t, err)
		ids[i] = id
	}

	infos, err := store.ListArtifacts()
	require.NoError(t, err)
	require.Len(t, infos, 3)

	assert.Equal(t, "third", infos[0].Name)
	assert.Equal(t, ids[2], infos[0].ID)
	assert.Equal(t, 3, infos[0].RuleCount)
	assert.Equal(t, "second", infos[1].Name)
	assert.Equal(t, "first", infos[2].Name)
	for _, info := range infos {
		assert.False(t, info.CreatedAt.IsZero())
	}
}

func TestStore_ListArtifacts_Empty(t *testing.T) {
	store := newTestStore(t)

	infos, err := store.ListArtifacts()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStore_SaveAuditSnapshot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveAuditSnapshot("\"timestamp\",\"action\"\n", 0))
	require.NoError(t, store.SaveAuditSnapshot("\"timestamp\",\"action\"\n\"t\",\"rule.created\"\n", 1))

	n, err := store.SnapshotCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_Encryption(t *testing.T) {
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := Open(dataDir, key)
	require.NoError(t, err)

	const marker = "BlockSteamClientRule"
	id, err := store.SaveArtifact("steam-block", "<FilePathRule Name=\""+marker+"\"/>", 1)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	t.Run("content is not stored in plaintext", func(t *testing.T) {
		raw, err := os.ReadFile(store.Path())
		require.NoError(t, err)
		assert.NotContains(t, string(raw), marker)
		assert.NotContains(t, string(raw), "steam-block")
	})

	t.Run("wrong key cannot open archive", func(t *testing.T) {
		wrongKey, err := GenerateKey()
		require.NoError(t, err)

		_, err = Open(dataDir, wrongKey)
		assert.Error(t, err)
	})

	t.Run("correct key reads across reopen", func(t *testing.T) {
		reopened, err := Open(dataDir, key)
		require.NoError(t, err)
		defer reopened.Close()

		content, err := reopened.ArtifactContent(id)
		require.NoError(t, err)
		assert.Contains(t, content, marker)

		infos, err := reopened.ListArtifacts()
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "steam-block", infos[0].Name)
	})
}

func TestStore_Close_Idempotent(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := Open(t.TempDir(), key)
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
