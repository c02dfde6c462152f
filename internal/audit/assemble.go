package audit

import (
	"sort"
	"time"
)

type groupKey struct {
	system  bool
	userID  int64
	created int64
}

func keyOf(userID *int64, created time.Time) groupKey {
	k := groupKey{created: created.UnixNano()}
	if userID == nil {
		k.system = true
	} else {
		k.userID = *userID
	}
	return k
}

// Assemble merges grouped buckets that share (actionUserId, created)
// into one event per administrative action. Buckets whose hierarchy
// could not be resolved are reported on their own. Output keeps the
// created-descending order of the input; ties keep input order.
func Assemble(buckets []Bucket) []Event {
	var (
		order      []groupKey
		partitions = map[groupKey][]Bucket{}
		orphans    = map[groupKey][]Bucket{}
	)
	for _, b := range buckets {
		k := keyOf(b.ActionUserID, b.Created)
		if _, ok := partitions[k]; !ok {
			if _, ok := orphans[k]; !ok {
				order = append(order, k)
			}
		}
		if b.orphaned() {
			orphans[k] = append(orphans[k], b)
			continue
		}
		partitions[k] = append(partitions[k], b)
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].created > order[j].created })

	events := make([]Event, 0, len(order))
	for _, k := range order {
		if part := partitions[k]; len(part) > 0 {
			events = append(events, assemblePartition(part))
		}
		for _, b := range orphans[k] {
			events = append(events, assemblePartition([]Bucket{b}))
		}
	}
	return events
}

func assemblePartition(part []Bucket) Event {
	sorted := make([]Bucket, len(part))
	copy(sorted, part)
	sort.SliceStable(sorted, func(i, j int) bool { return Above(sorted[i].EntityType, sorted[j].EntityType) })

	top := sorted[0]
	ev := Event{
		ActionUserID:   top.ActionUserID,
		Created:        top.Created,
		ActionType:     top.ActionType,
		TopEntityType:  top.EntityType,
		TopEntityID:    top.SampleEntityID,
		ParentEntityID: top.ParentEntityID,
		SampleChanges:  NormalizeChanges(top.SampleChanges),
	}

	var types []EntityType
	childType, hasChild := top.EntityType.Child()
	childAffected := 0
	childSeen := false
	for _, b := range sorted {
		ev.EntryCount += b.Count
		if len(types) == 0 || types[len(types)-1] != b.EntityType {
			types = append(types, b.EntityType)
		}
		switch {
		case b.EntityType == top.EntityType:
			ev.TopEntityCount += b.entities()
		case hasChild && b.EntityType == childType:
			childAffected += b.entities()
			childSeen = true
		}
	}
	ev.EntityTypes = types
	ev.IsCascade = len(types) > 1

	if ev.IsCascade && hasChild {
		ct := childType
		ev.ChildEntityType = &ct
		if childSeen {
			n := childAffected
			ev.ChildAffectedCount = &n
		}
		ev.ChildSummary = BuildChildSummary(ev.ChildEntityType, ev.ChildAffectedCount, nil)
	}

	ev.Action = ClassifyAction(ev.ActionType, ev.SampleChanges, ev.ActionUserID, ev.IsCascade)
	return ev
}

// CascadeContext annotates a single entry that belonged to a larger
// cascading action.
type CascadeContext struct {
	RootEntityType     EntityType   `json:"rootEntityType"`
	RootEntityID       int64        `json:"rootEntityId"`
	ChildEntityType    *EntityType  `json:"childEntityType"`
	ChildAffectedCount *int         `json:"childAffectedCount"`
	EntityTypes        []EntityType `json:"entityTypes"`
	EntryCount         int          `json:"entryCount"`
	Action             Action       `json:"action"`
}

// ContextFromEvent returns the cascade annotation for ev, or nil when ev
// is not a cascade.
func ContextFromEvent(ev Event) *CascadeContext {
	if !ev.IsCascade {
		return nil
	}
	return &CascadeContext{
		RootEntityType:     ev.TopEntityType,
		RootEntityID:       ev.TopEntityID,
		ChildEntityType:    ev.ChildEntityType,
		ChildAffectedCount: ev.ChildAffectedCount,
		EntityTypes:        ev.EntityTypes,
		EntryCount:         ev.EntryCount,
		Action:             ev.Action,
	}
}
