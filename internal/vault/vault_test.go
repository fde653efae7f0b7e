package vault

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzakharov/filevault/internal/shared"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(shared.GenerateRandByteArray(MasterKeySize))
	require.NoError(t, err)
	return v
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrBadMasterKey)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	v := newTestVault(t)

	dek := v.NewDEK()
	wrapped, err := v.Wrap(dek)
	require.NoError(t, err)

	got, err := v.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestWrapIsNondeterministic(t *testing.T) {
	v := newTestVault(t)

	dek := v.NewDEK()
	w1, err := v.Wrap(dek)
	require.NoError(t, err)
	w2, err := v.Wrap(dek)
	require.NoError(t, err)

	// fresh nonce every call
	assert.NotEqual(t, w1, w2)
}

func TestUnwrapTamperedBlob(t *testing.T) {
	v := newTestVault(t)

	wrapped, err := v.Wrap(v.NewDEK())
	require.NoError(t, err)

	for _, idx := range []int{0, len(wrapped) / 2, len(wrapped) - 1} {
		mutated := bytes.Clone(wrapped)
		mutated[idx] ^= 0x01

		_, err := v.Unwrap(mutated)
		assert.ErrorIs(t, err, shared.ErrKeyIntegrity, "flip at %d", idx)
	}
}

func TestUnwrapTruncatedBlob(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Unwrap([]byte{0x01})
	assert.ErrorIs(t, err, shared.ErrKeyIntegrity)
}

func TestRotateKeepsOldWrapsReadable(t *testing.T) {
	v := newTestVault(t)

	dek := v.NewDEK()
	oldWrapped, err := v.Wrap(dek)
	require.NoError(t, err)

	require.NoError(t, v.Rotate(shared.GenerateRandByteArray(MasterKeySize)))
	assert.Equal(t, 2, v.KeyCount())

	// wraps made before rotation still unwrap
	got, err := v.Unwrap(oldWrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, got)

	// new wraps use the newest key but stay readable too
	newWrapped, err := v.Wrap(dek)
	require.NoError(t, err)
	got, err = v.Unwrap(newWrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestRotateUnknownKeyFails(t *testing.T) {
	v1 := newTestVault(t)
	v2 := newTestVault(t)

	wrapped, err := v1.Wrap(v1.NewDEK())
	require.NoError(t, err)

	// a vault that never held v1's master key cannot unwrap
	_, err = v2.Unwrap(wrapped)
	assert.ErrorIs(t, err, shared.ErrKeyIntegrity)
}

func TestConcurrentWrapDuringRotation(t *testing.T) {
	v := newTestVault(t)
	dek := v.NewDEK()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w, err := v.Wrap(dek)
				require.NoError(t, err)
				got, err := v.Unwrap(w)
				require.NoError(t, err)
				require.Equal(t, dek, got)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 5; j++ {
			require.NoError(t, v.Rotate(shared.GenerateRandByteArray(MasterKeySize)))
		}
	}()
	wg.Wait()
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	pass := []byte("operator-passphrase")
	salt := []byte("deployment-salt")

	k1 := DeriveMasterKey(pass, salt)
	k2 := DeriveMasterKey(pass, salt)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, MasterKeySize)

	k3 := DeriveMasterKey(pass, []byte("other-salt"))
	assert.NotEqual(t, k1, k3)
}
