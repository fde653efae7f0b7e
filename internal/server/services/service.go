// Package services implements the operations of the storage core: encrypted
// upload/download, share-link lifecycle, access evaluation, and the audit
// and anomaly layer. Services own the transaction boundaries; repositories
// stay thin.
package services

// ClientInfo identifies the request origin for audit purposes. It is
// supplied by the external auth/session collaborator.
type ClientInfo struct {
	IP        string
	UserAgent string
}
