package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

	value, err := db.Get([]byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	var keys []string
	require.NoError(t, db.IteratePrefix([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	require.Equal(t, []string{"a/1", "a/2"}, keys)

	require.NoError(t, db.Delete([]byte("a/1")))
	_, err = db.Get([]byte("a/1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
}
