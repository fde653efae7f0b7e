package models

import "time"

// ActionKind enumerates the auditable operations.
type ActionKind string

const (
	ActionUpload        ActionKind = "upload"
	ActionDownload      ActionKind = "download"
	ActionDelete        ActionKind = "delete"
	ActionShareCreate   ActionKind = "share-create"
	ActionShareAccess   ActionKind = "share-access"
	ActionShareRevoke   ActionKind = "share-revoke"
	ActionLogin         ActionKind = "login"
	ActionLoginFailed   ActionKind = "login-failed"
	ActionPasswordReset ActionKind = "password-reset"
)

// Outcome records whether the audited operation succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ActivityLogEntry is an append-only audit record. UserID is empty for
// anonymous share access. Detail carries the operator-facing failure reason
// that is deliberately absent from public responses.
type ActivityLogEntry struct {
	ID        string
	UserID    string
	Action    ActionKind
	Outcome   Outcome
	IP        string
	UserAgent string
	EntityID  string
	Detail    string
	CreatedAt time.Time
}
