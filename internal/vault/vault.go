// Package vault manages the deployment master keys and the wrapping of
// per-file data-encryption keys (DEKs). The master keys never leave this
// package; everything stored alongside ciphertext is a wrapped DEK.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/mzakharov/filevault/internal/shared"
)

const (
	// DEKSize is the length of a data-encryption key (AES-256).
	DEKSize = 32

	// MasterKeySize is the required master key length.
	MasterKeySize = 32
)

var ErrBadMasterKey = errors.New("master key must be 32 bytes")

// Vault holds the ordered master key set, newest first. The set is
// read-mostly: Wrap and Unwrap take a read lock, Rotate takes the write
// lock and swaps in a fresh copy so concurrent readers never see a torn set.
type Vault struct {
	mu   sync.RWMutex
	keys [][]byte
}

// New creates a Vault with a single master key, as provisioned by the
// external secret collaborator at startup.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != MasterKeySize {
		return nil, ErrBadMasterKey
	}
	k := make([]byte, MasterKeySize)
	copy(k, masterKey)
	return &Vault{keys: [][]byte{k}}, nil
}

// Rotate introduces a new master key. Subsequent Wrap calls use it;
// Unwrap keeps trying older keys so existing wrapped DEKs stay readable.
func (v *Vault) Rotate(newKey []byte) error {
	if len(newKey) != MasterKeySize {
		return ErrBadMasterKey
	}
	k := make([]byte, MasterKeySize)
	copy(k, newKey)

	v.mu.Lock()
	defer v.mu.Unlock()

	keys := make([][]byte, 0, len(v.keys)+1)
	keys = append(keys, k)
	keys = append(keys, v.keys...)
	v.keys = keys
	return nil
}

// KeyCount reports how many master keys are currently known.
func (v *Vault) KeyCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

// NewDEK mints a fresh random data-encryption key. Every file version gets
// its own DEK; DEKs are never reused across versions.
func (v *Vault) NewDEK() []byte {
	return shared.GenerateRandByteArray(DEKSize)
}

// Wrap encrypts a DEK under the newest master key using AES-GCM with a
// fresh random nonce. The output is nonce||ciphertext||tag.
func (v *Vault) Wrap(dek []byte) ([]byte, error) {
	v.mu.RLock()
	key := v.keys[0]
	v.mu.RUnlock()

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := shared.GenerateRandByteArray(aead.NonceSize())
	return aead.Seal(nonce, nonce, dek, nil), nil
}

// Unwrap decrypts a wrapped DEK, trying all known master keys newest-first.
// If the authentication tag verifies under none of them the blob is corrupt
// or was wrapped under a retired key: shared.ErrKeyIntegrity, never garbage.
func (v *Vault) Unwrap(wrapped []byte) ([]byte, error) {
	v.mu.RLock()
	keys := v.keys
	v.mu.RUnlock()

	for _, key := range keys {
		aead, err := newAEAD(key)
		if err != nil {
			return nil, err
		}
		if len(wrapped) < aead.NonceSize() {
			return nil, shared.ErrKeyIntegrity
		}
		nonce, ct := wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():]
		dek, err := aead.Open(nil, nonce, ct, nil)
		if err == nil {
			return dek, nil
		}
	}

	return nil, shared.ErrKeyIntegrity
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveMasterKey stretches an operator passphrase into a master key with
// argon2id. Used by the startup path when the key is provisioned as a
// passphrase rather than raw bytes.
func DeriveMasterKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, MasterKeySize)
}
