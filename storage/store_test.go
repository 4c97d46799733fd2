package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count int
}

var jsonCodec = Codec[*record]{
	Encode: func(r *record) ([]byte, error) { return json.Marshal(r) },
	Decode: func(b []byte) (*record, error) {
		var r record
		err := json.Unmarshal(b, &r)
		return &r, err
	},
}

func newTestDB(t *testing.T) (*sql.DB, func()) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db, func() { db.Close() }
}

func newTestStore(t *testing.T, db *sql.DB, ns string) *Store[*record] {
	s, err := NewStore(db, ns, jsonCodec)
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	require.NoError(t, err)
	return s
}

func TestSaveGetRemove(t *testing.T) {
	db, close := newTestDB(t)
	defer close()
	ctx := context.Background()
	s := newTestStore(t, db, "swaps")
	defer s.Close()

	assert.NoError(t, s.Save(ctx, "a", &record{Name: "a", Count: 1}))
	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v.Count)

	// overwrite
	assert.NoError(t, s.Save(ctx, "a", &record{Name: "a", Count: 2}))
	v, _ = s.Get("a")
	assert.Equal(t, 2, v.Count)
	assert.Equal(t, 1, s.Len())

	removed, err := s.Remove(ctx, "a")
	assert.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Remove(ctx, "a")
	assert.NoError(t, err)
	assert.False(t, removed)
	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestReloadAndNamespaces(t *testing.T) {
	db, close := newTestDB(t)
	defer close()
	ctx := context.Background()

	swaps := newTestStore(t, db, "swaps")
	vaults := newTestStore(t, db, "vaults")
	require.NoError(t, swaps.Save(ctx, "k2", &record{Name: "two"}))
	require.NoError(t, swaps.Save(ctx, "k1", &record{Name: "one"}))
	require.NoError(t, vaults.Save(ctx, "k1", &record{Name: "vault"}))

	reopened, err := NewStore(db, "swaps", jsonCodec)
	require.NoError(t, err)
	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Equal(t, "one", loaded["k1"].Name)
	assert.Equal(t, []string{"k1", "k2"}, reopened.Keys())
	assert.Equal(t, "two", reopened.Values()[1].Name)
}

func TestWriteBeforeLoad(t *testing.T) {
	db, close := newTestDB(t)
	defer close()

	s, err := NewStore(db, "swaps", jsonCodec)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Save(context.Background(), "a", &record{}), ErrNotLoaded)
}

func TestDecodeFailure(t *testing.T) {
	db, close := newTestDB(t)
	defer close()
	ctx := context.Background()

	_, err := db.Exec(kvTable)
	require.NoError(t, err)
	_, err = db.Exec(queryUpsert, "swaps", "bad", []byte("{not json"), 0)
	require.NoError(t, err)

	s, err := NewStore(db, "swaps", jsonCodec)
	require.NoError(t, err)
	_, err = s.Load(ctx)
	assert.Error(t, err)
}
