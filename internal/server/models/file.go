package models

import "time"

// FileRecord groups the append-only version chain of one logical file.
// Deleting a file only clears its visibility; stored ciphertext is never
// mutated.
type FileRecord struct {
	ID        string
	UserID    string
	Name      string
	Size      int64
	SHA256    []byte
	Deleted   bool
	CreatedAt time.Time
}

// FileVersion is one immutable encrypted revision of a file. The ciphertext
// itself lives in the external blob store under StorageKey; authentication
// tags ride inside the chunked ciphertext stream. WrappedDEK is the
// version's data-encryption key sealed by the key vault.
type FileVersion struct {
	ID         string
	FileID     string
	Seq        int64
	StorageKey string
	Nonce      []byte
	WrappedDEK []byte
	Size       int64
	CipherSize int64
	CreatedAt  time.Time
}
