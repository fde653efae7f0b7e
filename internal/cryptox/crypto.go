// Package cryptox implements the file encryption engine: chunked AES-256-GCM
// streaming with a fresh random base nonce per encryption call. Chunking
// bounds peak memory for large files while keeping every byte authenticated.
//
// Wire format, per chunk:
//
//	uint32 big-endian header: sealed-chunk length, top bit set on the final chunk
//	sealed chunk: AES-GCM ciphertext + tag
//
// The chunk nonce is the base nonce with the chunk counter XORed into its
// last four bytes, so a (DEK, nonce) pair is never used twice: the DEK is
// fresh per file version, the base nonce is fresh per call, and counters
// are distinct within a call. The final-chunk flag is authenticated as
// associated data, so truncating or reordering a stream fails verification.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mzakharov/filevault/internal/shared"
)

const (
	// ChunkSize is the plaintext chunk length processed per AEAD call.
	ChunkSize = 64 * 1024

	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	finalFlag = uint32(1) << 31
)

var (
	aadChunk = []byte{0x00}
	aadFinal = []byte{0x01}
)

// EncryptResult describes one completed encryption call.
type EncryptResult struct {
	// Nonce is the random base nonce; it must be stored with the version.
	Nonce []byte
	// PlainSize is the number of plaintext bytes consumed.
	PlainSize int64
	// CipherSize is the number of ciphertext bytes written, headers included.
	CipherSize int64
	// SHA256 is the digest of the plaintext, for integrity and dedup checks.
	SHA256 []byte
}

// EncryptStream encrypts src into dst with the given DEK. The plaintext is
// never held in memory beyond one chunk. Empty input is valid and produces
// a single authenticated final chunk.
func EncryptStream(dst io.Writer, src io.Reader, dek []byte) (*EncryptResult, error) {
	aead, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	base := shared.GenerateRandByteArray(NonceSize)
	digest := sha256.New()

	res := &EncryptResult{Nonce: base}
	buf := make([]byte, ChunkSize)
	sealed := make([]byte, 0, ChunkSize+aead.Overhead())
	header := make([]byte, 4)

	var counter uint32
	for {
		n, final, err := readChunk(src, buf)
		if err != nil {
			return nil, err
		}
		res.PlainSize += int64(n)
		digest.Write(buf[:n])

		aad := aadChunk
		if final {
			aad = aadFinal
		}
		sealed = aead.Seal(sealed[:0], chunkNonce(base, counter), buf[:n], aad)

		h := uint32(len(sealed))
		if final {
			h |= finalFlag
		}
		binary.BigEndian.PutUint32(header, h)

		if _, err := dst.Write(header); err != nil {
			return nil, err
		}
		if _, err := dst.Write(sealed); err != nil {
			return nil, err
		}
		res.CipherSize += int64(4 + len(sealed))

		if final {
			break
		}
		if counter == ^uint32(0) {
			return nil, fmt.Errorf("input exceeds maximum chunk count")
		}
		counter++
	}

	res.SHA256 = digest.Sum(nil)
	return res, nil
}

// DecryptStream decrypts src into dst. Any tag failure, truncation, or
// trailing data yields shared.ErrAuthentication. Bytes of already-verified
// chunks are streamed to dst as they authenticate; callers that must not
// observe partial plaintext decrypt into a discardable buffer (see the file
// service download path).
func DecryptStream(dst io.Writer, src io.Reader, dek, nonce []byte) error {
	if len(nonce) != NonceSize {
		return shared.ErrAuthentication
	}
	aead, err := newAEAD(dek)
	if err != nil {
		return err
	}

	header := make([]byte, 4)
	sealed := make([]byte, ChunkSize+aead.Overhead())

	var counter uint32
	for {
		if _, err := io.ReadFull(src, header); err != nil {
			// a well-formed stream ends with a final chunk, never mid-header
			return shared.ErrAuthentication
		}
		h := binary.BigEndian.Uint32(header)
		final := h&finalFlag != 0
		size := h &^ finalFlag
		if int(size) > len(sealed) || int(size) < aead.Overhead() {
			return shared.ErrAuthentication
		}

		if _, err := io.ReadFull(src, sealed[:size]); err != nil {
			return shared.ErrAuthentication
		}

		aad := aadChunk
		if final {
			aad = aadFinal
		}
		plain, err := aead.Open(nil, chunkNonce(nonce, counter), sealed[:size], aad)
		if err != nil {
			return shared.ErrAuthentication
		}
		if _, err := dst.Write(plain); err != nil {
			return err
		}

		if final {
			// trailing bytes after the final chunk mean tampering
			var one [1]byte
			if n, _ := src.Read(one[:]); n != 0 {
				return shared.ErrAuthentication
			}
			return nil
		}
		counter++
	}
}

// Encrypt is a convenience wrapper for small payloads held in memory.
func Encrypt(dek, plaintext []byte) (ciphertext, nonce []byte, err error) {
	var out bytes.Buffer
	res, err := EncryptStream(&out, bytes.NewReader(plaintext), dek)
	if err != nil {
		return nil, nil, err
	}
	return out.Bytes(), res.Nonce, nil
}

// Decrypt is the in-memory counterpart of Encrypt. It is all-or-nothing:
// on any verification failure no plaintext is returned.
func Decrypt(dek, nonce, ciphertext []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := DecryptStream(&out, bytes.NewReader(ciphertext), dek, nonce); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func newAEAD(dek []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// chunkNonce derives the per-chunk nonce from the base nonce and counter.
func chunkNonce(base []byte, counter uint32) []byte {
	n := make([]byte, NonceSize)
	copy(n, base)
	tail := binary.BigEndian.Uint32(n[NonceSize-4:])
	binary.BigEndian.PutUint32(n[NonceSize-4:], tail^counter)
	return n
}

// readChunk fills buf from r and reports whether this is the last chunk.
// A source whose length is an exact multiple of ChunkSize yields a trailing
// empty final chunk, which keeps truncation detectable in every case.
func readChunk(r io.Reader, buf []byte) (int, bool, error) {
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
		return n, false, nil
	case io.ErrUnexpectedEOF, io.EOF:
		return n, true, nil
	default:
		return 0, false, err
	}
}
