// Package models defines the persisted entities of the storage core.
package models

import "time"

// DefaultQuotaBytes is the storage quota assigned to new users (10 GiB).
const DefaultQuotaBytes = int64(10) * 1024 * 1024 * 1024

// User is an account as seen by the storage core. The password hash is
// opaque here: credential validation belongs to the external auth
// collaborator.
type User struct {
	ID           string
	UserName     string
	QuotaBytes   int64
	UsedBytes    int64
	PasswordHash []byte
	CreatedAt    time.Time
}
