package audit

import (
	"encoding/json"
	"strconv"
	"time"
)

// Bucket is one grouped row of a single audit table: every entry of one
// entity type that shares actor, timestamp, action and ancestor
// tournament.
type Bucket struct {
	EntityType   EntityType
	ActionUserID *int64
	Created      time.Time
	ActionType   ActionType
	// ParentEntityID is the ancestor tournament id; for tournament rows it
	// is the tournament itself. Nil when the hierarchy could not be
	// resolved.
	ParentEntityID *int64
	// Count is the number of raw rows, EntityCount the number of distinct
	// entities among them.
	Count          int
	EntityCount    int
	SampleChanges  json.RawMessage
	SampleEntityID int64
	MaxID          int64
}

func (b Bucket) orphaned() bool {
	return b.ParentEntityID == nil && b.EntityType != EntityTournament
}

func (b Bucket) entities() int {
	if b.EntityCount > 0 {
		return b.EntityCount
	}
	return b.Count
}

// Event is a cascade-aware aggregate of buckets sharing actor and
// timestamp. It is computed per request and never stored.
type Event struct {
	ActionUserID *int64     `json:"actionUserId"`
	Created      time.Time  `json:"created"`
	ActionType   ActionType `json:"actionType"`
	Action       Action     `json:"action"`

	TopEntityType  EntityType `json:"topEntityType"`
	TopEntityID    int64      `json:"topEntityId"`
	TopEntityCount int        `json:"topEntityCount"`
	TopEntityName  *string    `json:"topEntityName"`

	ParentEntityID   *int64  `json:"parentEntityId"`
	ParentEntityName *string `json:"parentEntityName"`

	ChildEntityType    *EntityType `json:"childEntityType"`
	ChildAffectedCount *int        `json:"childAffectedCount"`
	TotalChildCount    *int        `json:"totalChildCount"`
	ChildSummary       string      `json:"childSummary,omitempty"`

	IsCascade     bool         `json:"isCascade"`
	EntityTypes   []EntityType `json:"entityTypes"`
	EntryCount    int          `json:"entryCount"`
	SampleChanges Changes      `json:"sampleChanges"`
}

// SetTotalChildCount records the denominator and refreshes ChildSummary.
func (e *Event) SetTotalChildCount(total *int) {
	e.TotalChildCount = total
	e.ChildSummary = BuildChildSummary(e.ChildEntityType, e.ChildAffectedCount, total)
}

// BuildChildSummary renders "12 of 45 matches affected", or
// "12 matches affected" when the total is unknown.
func BuildChildSummary(child *EntityType, affected, total *int) string {
	if child == nil || affected == nil {
		return ""
	}
	if total != nil {
		return strconv.Itoa(*affected) + " of " + strconv.Itoa(*total) + " " + child.Noun(*total) + " affected"
	}
	return strconv.Itoa(*affected) + " " + child.Noun(*affected) + " affected"
}
