package policy

import (
	"errors"
	"time"
)

// ErrAttachmentNotFound indicates a caller/resource mismatch, distinct from
// a deny decision.
var ErrAttachmentNotFound = errors.New("attachment not found")

// Disposition is the resolved authorization outcome for one operation call.
type Disposition string

const (
	DispositionAllow Disposition = "allow"
	DispositionAsk   Disposition = "ask"
	DispositionDeny  Disposition = "deny"
)

// Valid reports whether d is one of the three known dispositions.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionAllow, DispositionAsk, DispositionDeny:
		return true
	}
	return false
}

// PermissionMap maps operation names to dispositions. Operations absent
// from the map resolve to ask, never allow.
type PermissionMap map[string]Disposition

// Resolve returns the disposition for an operation name. Unknown or
// malformed entries fall back to ask.
func (m PermissionMap) Resolve(operation string) Disposition {
	d, ok := m[operation]
	if !ok || !d.Valid() {
		return DispositionAsk
	}
	return d
}

// Attachment binds one agent identity to one skill and carries the
// owner-configured permission policy for that binding.
type Attachment struct {
	ID          string        `json:"id"`
	SkillID     string        `json:"skill_id"`
	AgentID     string        `json:"agent_id"`
	OwnerID     string        `json:"owner_id"`
	TokenHash   string        `json:"-"`
	Permissions PermissionMap `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Resolve applies the attachment's permission map to an operation name.
func (a *Attachment) Resolve(operation string) Disposition {
	return a.Permissions.Resolve(operation)
}
