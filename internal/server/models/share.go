package models

import "time"

// ShareStatus is the derived lifecycle state of a share link. Only Active
// permits access; the other states are terminal.
type ShareStatus string

const (
	ShareActive    ShareStatus = "active"
	ShareExpired   ShareStatus = "expired"
	ShareExhausted ShareStatus = "exhausted"
	ShareRevoked   ShareStatus = "revoked"
)

// ShareLink grants external access to one file version, subject to optional
// password, expiration, and download-count gates. Links are never deleted;
// the only stored mutations are the download counter and the revoked flag.
type ShareLink struct {
	ID            string
	Token         string
	FileVersionID string
	UserID        string
	PasswordHash  []byte
	PasswordSalt  []byte
	ExpiresAt     *time.Time
	MaxDownloads  *int64
	DownloadCount int64
	Revoked       bool
	CreatedAt     time.Time
}

// HasPassword reports whether the link is password protected.
func (s *ShareLink) HasPassword() bool {
	return len(s.PasswordHash) > 0
}

// Status derives the lifecycle state at the given instant. Expiry is a
// read-time predicate, not a stored mutation: the record stays Active-shaped
// and every access check recomputes this.
func (s *ShareLink) Status(now time.Time) ShareStatus {
	if s.Revoked {
		return ShareRevoked
	}
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return ShareExpired
	}
	if s.MaxDownloads != nil && s.DownloadCount >= *s.MaxDownloads {
		return ShareExhausted
	}
	return ShareActive
}
