package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

func i64(v int64) *int64 { return &v }

func actorMatches(f audit.ActorFilter, userID *int64) bool {
	switch f.Kind {
	case audit.ActorAdmin:
		return userID != nil
	case audit.ActorSystem:
		return userID == nil
	case audit.ActorUser:
		return userID != nil && *userID == f.UserID
	}
	return true
}

type fakeSource struct {
	t       audit.EntityType
	entries []audit.Entry
	buckets []audit.Bucket
	notes   []audit.Note

	mu           sync.Mutex
	entryQueries []store.EntryQuery
	groupQueries []store.GroupQuery
	noteWindows  []store.NoteWindow
}

func (f *fakeSource) EntityType() audit.EntityType { return f.t }

func (f *fakeSource) Entries(_ context.Context, q store.EntryQuery) ([]audit.Entry, error) {
	f.mu.Lock()
	f.entryQueries = append(f.entryQueries, q)
	f.mu.Unlock()

	var out []audit.Entry
	for _, e := range f.entries {
		if q.ReferenceIDLock != nil && e.ReferenceIDLock != *q.ReferenceIDLock {
			continue
		}
		if q.Cursor != nil && e.ID >= *q.Cursor {
			continue
		}
		if q.At != nil && !e.Created.Equal(*q.At) {
			continue
		}
		if !actorMatches(q.Actor, e.ActionUserID) {
			continue
		}
		e.EntityType = f.t
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit+1 {
		out = out[:q.Limit+1]
	}
	return out, nil
}

func (f *fakeSource) Groups(_ context.Context, q store.GroupQuery) ([]audit.Bucket, error) {
	f.mu.Lock()
	f.groupQueries = append(f.groupQueries, q)
	f.mu.Unlock()
	return f.filterGroups(q), nil
}

func (f *fakeSource) filterGroups(q store.GroupQuery) []audit.Bucket {
	var out []audit.Bucket
	for _, b := range f.buckets {
		if q.Before != nil && !b.Created.Before(*q.Before) {
			continue
		}
		if q.At != nil && !b.Created.Equal(*q.At) {
			continue
		}
		if q.AdminOnly && b.ActionUserID == nil {
			continue
		}
		if q.RootTournamentID != nil && (b.ParentEntityID == nil || *b.ParentEntityID != *q.RootTournamentID) {
			continue
		}
		if !actorMatches(q.Actor, b.ActionUserID) {
			continue
		}
		b.EntityType = f.t
		out = append(out, b)
	}
	sortBuckets(out)
	if q.Limit > 0 && len(out) > q.Limit+1 {
		out = out[:q.Limit+1]
	}
	return out
}

func (f *fakeSource) EntryCreated(_ context.Context, id int64) (time.Time, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e.Created, nil
		}
	}
	return time.Time{}, store.ErrNotFound
}

func (f *fakeSource) EarliestCreatedFrom(_ context.Context, referenceID, fromID int64) (time.Time, error) {
	var earliest time.Time
	found := false
	for _, e := range f.entries {
		if e.ReferenceIDLock != referenceID || e.ID < fromID {
			continue
		}
		if !found || e.Created.Before(earliest) {
			earliest, found = e.Created, true
		}
	}
	if !found {
		return time.Time{}, store.ErrNotFound
	}
	return earliest, nil
}

func (f *fakeSource) Notes(_ context.Context, referenceID int64, w store.NoteWindow) ([]audit.Note, error) {
	f.mu.Lock()
	f.noteWindows = append(f.noteWindows, w)
	f.mu.Unlock()

	var out []audit.Note
	for _, n := range f.notes {
		if n.ReferenceID != referenceID {
			continue
		}
		if w.From != nil && n.Created.Before(*w.From) {
			continue
		}
		if w.Before != nil && !n.Created.Before(*w.Before) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

type fakeStore struct {
	sources    map[audit.EntityType]*fakeSource
	roots      map[audit.EntityType]map[int64]int64
	admins     []int64
	unionCalls int
	mu         sync.Mutex
}

func newFakeStore() *fakeStore {
	s := &fakeStore{sources: map[audit.EntityType]*fakeSource{}, roots: map[audit.EntityType]map[int64]int64{}}
	for _, t := range audit.AllEntityTypes {
		s.sources[t] = &fakeSource{t: t}
	}
	return s
}

func (s *fakeStore) Source(t audit.EntityType) (store.AuditSource, error) {
	src, ok := s.sources[t]
	if !ok {
		return nil, audit.ErrInvalidFilter
	}
	return src, nil
}

func (s *fakeStore) GroupedUnion(_ context.Context, parts []store.SourceGroupQuery, limit int) ([]audit.Bucket, error) {
	s.mu.Lock()
	s.unionCalls++
	s.mu.Unlock()

	var out []audit.Bucket
	for _, p := range parts {
		q := p.Query
		q.Limit = 0
		out = append(out, s.sources[p.EntityType].filterGroups(q)...)
	}
	sortBuckets(out)
	if limit > 0 && len(out) > limit+1 {
		out = out[:limit+1]
	}
	return out, nil
}

func (s *fakeStore) RootTournamentID(_ context.Context, t audit.EntityType, id int64) (*int64, error) {
	if t == audit.EntityTournament {
		return &id, nil
	}
	if root, ok := s.roots[t][id]; ok {
		return &root, nil
	}
	return nil, nil
}

func (s *fakeStore) AdminUserIDs(context.Context) ([]int64, error) {
	return s.admins, nil
}

type fakeResolver struct {
	users map[int64]audit.UserRef
}

func (fakeResolver) ResolveEvents(context.Context, []audit.Event) (resolver.References, error) {
	return resolver.References{}, nil
}

func (fakeResolver) ResolveEntries(context.Context, []audit.Entry) (resolver.References, error) {
	return resolver.References{}, nil
}

func (fakeResolver) ResolveTimeline(context.Context, []audit.TimelineItem) (resolver.References, error) {
	return resolver.References{}, nil
}

func (r fakeResolver) Users(_ context.Context, ids []int64) ([]audit.UserRef, error) {
	var out []audit.UserRef
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
