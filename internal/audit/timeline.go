package audit

import (
	"sort"
	"time"
)

type TimelineItemKind string

const (
	TimelineAudit TimelineItemKind = "audit"
	TimelineNote  TimelineItemKind = "note"
)

// TimelineEntry is an audit entry as shown on a single entity's history.
type TimelineEntry struct {
	Entry
	Cascade *CascadeContext `json:"cascade,omitempty"`
}

type TimelineItem struct {
	Kind    TimelineItemKind `json:"kind"`
	Created time.Time        `json:"created"`
	Audit   *TimelineEntry   `json:"audit,omitempty"`
	Note    *Note            `json:"note,omitempty"`
}

// MergeTimeline interleaves entries and notes by created, newest first.
// Each input is sorted stably before merging; on equal timestamps audit
// entries come before notes and each side keeps its input order.
func MergeTimeline(entries []TimelineEntry, notes []Note) []TimelineItem {
	es := make([]TimelineEntry, len(entries))
	copy(es, entries)
	sort.SliceStable(es, func(i, j int) bool { return es[i].Created.After(es[j].Created) })

	ns := make([]Note, len(notes))
	copy(ns, notes)
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].Created.After(ns[j].Created) })

	out := make([]TimelineItem, 0, len(es)+len(ns))
	i, j := 0, 0
	for i < len(es) || j < len(ns) {
		if j >= len(ns) || (i < len(es) && !ns[j].Created.After(es[i].Created)) {
			e := es[i]
			out = append(out, TimelineItem{Kind: TimelineAudit, Created: e.Created, Audit: &e})
			i++
			continue
		}
		n := ns[j]
		out = append(out, TimelineItem{Kind: TimelineNote, Created: n.Created, Note: &n})
		j++
	}
	return out
}
