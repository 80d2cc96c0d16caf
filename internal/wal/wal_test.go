package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

// seqs replays w and returns the sequence numbers it saw.
func seqs(t *testing.T, w *WAL) ([]int, int64) {
	t.Helper()
	var got []int
	torn, err := w.ReadAll(func(raw json.RawMessage) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		got = append(got, e.Seq)
		return nil
	})
	require.NoError(t, err)
	return got, torn
}

func TestWAL_ReplaysInWriteOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")

	w, err := Open(path)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, w.Write(entry{Seq: i, Note: "n"}))
	}
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	got, torn := seqs(t, w)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Zero(t, torn)

	// Appends after a replay land at the end.
	require.NoError(t, w.Write(entry{Seq: 4}))
	got, _ = seqs(t, w)
	assert.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestWAL_EmptyLog(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "empty.wal"))
	require.NoError(t, err)
	defer w.Close()

	calls := 0
	torn, err := w.ReadAll(func(json.RawMessage) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Zero(t, torn)
}

func TestWAL_TornTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.wal")
	good := "{\"seq\":1}\n{\"seq\":2}\n"
	require.NoError(t, os.WriteFile(path, []byte(good+"{\"seq\":"), 0o644))

	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	got, torn := seqs(t, w)
	assert.Equal(t, []int{1, 2}, got)
	assert.EqualValues(t, len("{\"seq\":"), torn)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, good, string(raw))

	// New records follow the last complete one.
	require.NoError(t, w.Write(entry{Seq: 3}))
	got, torn = seqs(t, w)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Zero(t, torn)
}

func TestWAL_TornTailThatParses(t *testing.T) {
	// A record missing only its newline was never acknowledged.
	path := filepath.Join(t.TempDir(), "nonl.wal")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1}\n{\"seq\":2}"), 0o644))

	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	got, torn := seqs(t, w)
	assert.Equal(t, []int{1}, got)
	assert.EqualValues(t, 9, torn)
}

func TestWAL_CorruptMiddleRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.wal")
	content := "{\"seq\":1}\n{\"seq\":\n{\"seq\":3}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.ReadAll(func(json.RawMessage) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupt)

	// Nothing is truncated when the damage is not at the tail.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(raw))
}
