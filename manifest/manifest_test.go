package manifest

import (
	"context"
	"testing"

	"github.com/msel-source/mefwriter/header"
	"github.com/msel-source/mefwriter/session"
	"github.com/msel-source/mefwriter/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntryCount(t *testing.T, path string) int64 {
	t.Helper()
	fh, err := sys.OpenReadOnly(path)
	require.NoError(t, err)
	defer fh.Close()
	h, err := header.Read(fh)
	require.NoError(t, err)
	return h.NumberOfEntries
}

func TestRegisterCreatesManifest(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	require.NoError(t, Register(root, "sess1", "eeg1", "anon1", false, sess))

	path := Path(root, "sess1")
	assert.Equal(t, int64(1), readEntryCount(t, path))
}

func TestRegisterIsIdempotent(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	require.NoError(t, Register(root, "sess1", "eeg1", "anon1", false, sess))
	require.NoError(t, Register(root, "sess1", "eeg1", "anon1", false, sess))

	path := Path(root, "sess1")
	assert.Equal(t, int64(1), readEntryCount(t, path))
}

func TestRegisterAppendsDistinctChannels(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	require.NoError(t, Register(root, "sess1", "eeg1", "anon1", false, sess))
	require.NoError(t, Register(root, "sess1", "eeg2", "anon2", false, sess))

	path := Path(root, "sess1")
	assert.Equal(t, int64(2), readEntryCount(t, path))
}

func TestRegisterSkippedWhenEncrypted(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	require.NoError(t, Register(root, "sess1", "eeg1", "anon1", true, sess))

	path := Path(root, "sess1")
	_, err := sys.OpenReadOnly(path)
	assert.Error(t, err)
}

func TestUpdaterRegisterMatchesFreeFunction(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	u := NewUpdater(nil, nil)
	require.NoError(t, u.Register(context.Background(), root, "sess1", "eeg1", "anon1", false, sess))
	require.NoError(t, u.Register(context.Background(), root, "sess1", "eeg1", "anon1", false, sess))

	path := Path(root, "sess1")
	assert.Equal(t, int64(1), readEntryCount(t, path))
}
