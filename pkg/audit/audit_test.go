package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultguard/sentinel/pkg/hash"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	l, err := Open(path, hash.New(hash.SHA256), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAppendAndVerifyEntry(t *testing.T) {
	l, _ := openTestLog(t)

	entry, err := l.Append("decision", "user-1", "read", DecisionReceipt{
		DecisionID: "d-1",
		Verdict:    "allow",
		TrustScore: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), entry.SequenceNo)

	ok, err := l.VerifyEntry(0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppendMultipleAndVerifyFullLog(t *testing.T) {
	l, _ := openTestLog(t)

	for i := 0; i < 5; i++ {
		_, err := l.Append("decision", "user-1", "read", map[string]any{"i": i})
		require.NoError(t, err)
	}

	assert.Equal(t, 5, l.EntryCount())

	ok, err := l.VerifyFullLog()
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		ok, err := l.VerifyEntry(i)
		require.NoError(t, err)
		assert.True(t, ok, "entry %d should verify", i)
	}
}

func TestReopenRecomputesRootAndReconcilesSidecar(t *testing.T) {
	l, path := openTestLog(t)

	for i := 0; i < 3; i++ {
		_, err := l.Append("decision", "user-1", "read", map[string]any{"i": i})
		require.NoError(t, err)
	}
	root := l.CurrentRoot()
	require.NoError(t, l.Close())

	reopened, err := Open(path, hash.New(hash.SHA256), nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, root, reopened.CurrentRoot())
	assert.Equal(t, 3, reopened.EntryCount())
}

func TestReopenRejectsTamperedSidecar(t *testing.T) {
	l, path := openTestLog(t)

	for i := 0; i < 3; i++ {
		_, err := l.Append("decision", "user-1", "read", map[string]any{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	tampered := []byte(`{"root_hex":"0000000000000000000000000000000000000000000000000000000000000000","entry_count":3,"algorithm":"sha256"}`)
	require.NoError(t, os.WriteFile(path+".root", tampered, 0o644))

	_, err := Open(path, hash.New(hash.SHA256), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityFail)
}

func TestInclusionProofOutOfRange(t *testing.T) {
	l, _ := openTestLog(t)
	_, err := l.Append("decision", "user-1", "read", map[string]any{"a": 1})
	require.NoError(t, err)

	_, err = l.InclusionProof(99)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestEmptyLogVerifiesTrue(t *testing.T) {
	l, _ := openTestLog(t)
	ok, err := l.VerifyFullLog()
	require.NoError(t, err)
	assert.True(t, ok)
}
