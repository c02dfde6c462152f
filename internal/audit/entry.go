package audit

import (
	"encoding/json"
	"time"
)

// Entry is one row of an entity-type specific audit table.
type Entry struct {
	ID              int64      `json:"id"`
	EntityType      EntityType `json:"entityType"`
	ReferenceIDLock int64      `json:"referenceIdLock"`
	ReferenceID     *int64     `json:"referenceId,omitempty"`
	ActionUserID    *int64     `json:"actionUserId"`
	ActionType      ActionType `json:"actionType"`
	Changes         Changes    `json:"changes"`
	Created         time.Time  `json:"created"`

	// RawChanges holds the payload as stored. Changes is its normalized form.
	RawChanges json.RawMessage `json:"-"`
}

// IsSystem reports whether the row was written by an automated process.
func (e Entry) IsSystem() bool {
	return e.ActionUserID == nil
}

// Meaningful reports whether the entry still says something after
// normalization. Updates whose every field was a no-op do not.
func (e Entry) Meaningful() bool {
	return e.ActionType != ActionUpdated || len(e.Changes) > 0
}

// Normalize fills Changes from RawChanges.
func (e *Entry) Normalize() {
	e.Changes = NormalizeChanges(e.RawChanges)
}

// Note is a free-text admin annotation on a single entity.
type Note struct {
	ID          int64      `json:"id"`
	EntityType  EntityType `json:"entityType"`
	ReferenceID int64      `json:"referenceId"`
	Note        string     `json:"note"`
	Created     time.Time  `json:"created"`
	Updated     *time.Time `json:"updated,omitempty"`
	AdminUserID int64      `json:"adminUserId"`
}

// UserRef is the display identity of a user referenced by audit data.
type UserRef struct {
	ID       int64   `json:"id"`
	PlayerID *int64  `json:"playerId"`
	OsuID    *int64  `json:"osuId"`
	Username *string `json:"username"`
}

type ActorKind int

const (
	ActorAny ActorKind = iota
	ActorAdmin
	ActorSystem
	ActorUser
)

// ActorFilter restricts rows by who performed the action.
type ActorFilter struct {
	Kind   ActorKind
	UserID int64
}

// ExactActor matches exactly the given actor; nil selects system rows.
func ExactActor(userID *int64) ActorFilter {
	if userID == nil {
		return ActorFilter{Kind: ActorSystem}
	}
	return ActorFilter{Kind: ActorUser, UserID: *userID}
}
