package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

// EventFilter narrows the grouped event feed.
type EventFilter struct {
	// EntityTypes is the table scope. Empty means the keys of Fields, or
	// the configured defaults.
	EntityTypes []audit.EntityType
	ActionTypes []audit.ActionType
	Actor       audit.ActorFilter
	AdminOnly   bool
	From, To    *time.Time
	// Fields holds per-type "field changed" filters. Within a type they
	// are OR'ed; a type in scope without fields is left out when any
	// type has fields.
	Fields map[audit.EntityType][]string
}

type EventPage struct {
	Events     []audit.Event `json:"events"`
	NextCursor *time.Time    `json:"nextCursor"`
	HasMore    bool          `json:"hasMore"`
	resolver.References
}

// GetEventFeed returns cascade-aware events older than cursor, newest
// first. A timestamp is never split across two pages.
func (s *Service) GetEventFeed(ctx context.Context, f EventFilter, cursor *time.Time, limit int) (_ EventPage, err error) {
	ctx, span := s.start(ctx, "feed.GetEventFeed")
	defer func() { finish(span, err) }()

	limit, err = s.pageSize(limit)
	if err != nil {
		return EventPage{}, err
	}
	base, types, fields, err := s.feedScope(f)
	if err != nil {
		return EventPage{}, err
	}

	parts := make([]store.SourceGroupQuery, 0, len(types))
	for _, t := range types {
		q := base
		q.Before = cursor
		q.Fields = fields[t]
		q.Limit = limit
		parts = append(parts, store.SourceGroupQuery{EntityType: t, Query: q})
	}
	if len(parts) == 0 {
		return EventPage{Events: []audit.Event{}}, nil
	}

	buckets, err := s.dispatch(ctx, parts, limit)
	if err != nil {
		return EventPage{}, err
	}
	buckets, hasMore, err := s.cutPage(ctx, parts, buckets, limit)
	if err != nil {
		return EventPage{}, err
	}

	page := EventPage{Events: audit.Assemble(buckets), HasMore: hasMore}
	if hasMore {
		next := buckets[len(buckets)-1].Created
		page.NextCursor = &next
	}
	page.References, err = s.resolver.ResolveEvents(ctx, page.Events)
	if err != nil {
		return EventPage{}, err
	}
	s.log.Debugw("event feed", "types", types, "buckets", len(buckets), "events", len(page.Events), "has_more", hasMore)
	return page, nil
}

func (s *Service) feedScope(f EventFilter) (store.GroupQuery, []audit.EntityType, map[audit.EntityType][]string, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return store.GroupQuery{}, nil, nil, fmt.Errorf("%w: from is after to", audit.ErrInvalidFilter)
	}
	for _, a := range f.ActionTypes {
		if !a.Valid() {
			return store.GroupQuery{}, nil, nil, fmt.Errorf("%w: unknown action type %d", audit.ErrInvalidFilter, int(a))
		}
	}

	fields := make(map[audit.EntityType][]string, len(f.Fields))
	for t, names := range f.Fields {
		valid, err := audit.ValidateFields(t, names)
		if err != nil {
			return store.GroupQuery{}, nil, nil, err
		}
		if len(valid) > 0 {
			fields[t] = valid
		}
	}

	var types []audit.EntityType
	switch {
	case len(f.EntityTypes) > 0:
		types = append(types, f.EntityTypes...)
	case len(fields) > 0:
		for t := range fields {
			types = append(types, t)
		}
	default:
		types = append(types, s.cfg.DefaultEntityTypes...)
	}

	scoped := make([]audit.EntityType, 0, len(types))
	seen := map[audit.EntityType]bool{}
	for _, t := range types {
		if !t.Valid() {
			return store.GroupQuery{}, nil, nil, fmt.Errorf("%w: unknown entity type %d", audit.ErrInvalidFilter, int(t))
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		if len(fields) > 0 && len(fields[t]) == 0 {
			continue
		}
		scoped = append(scoped, t)
	}
	audit.SortByHierarchy(scoped)

	base := store.GroupQuery{
		Actor:       f.Actor,
		AdminOnly:   f.AdminOnly,
		ActionTypes: f.ActionTypes,
		From:        f.From,
		To:          f.To,
	}
	return base, scoped, fields, nil
}

func (s *Service) dispatch(ctx context.Context, parts []store.SourceGroupQuery, limit int) ([]audit.Bucket, error) {
	if s.cfg.Dispatch == DispatchFanout || len(parts) == 1 {
		return s.fanout(ctx, parts, limit)
	}
	return s.store.GroupedUnion(ctx, parts, limit)
}

// fanout runs every part on its own table concurrently and merges the
// results newest first, breaking ties by hierarchy then by id.
func (s *Service) fanout(ctx context.Context, parts []store.SourceGroupQuery, limit int) ([]audit.Bucket, error) {
	results := make([][]audit.Bucket, len(parts))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		i, p := i, p
		src, err := s.store.Source(p.EntityType)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			q := p.Query
			q.Limit = limit
			buckets, err := src.Groups(gctx, q)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = buckets
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []audit.Bucket
	for _, r := range results {
		merged = append(merged, r...)
	}
	sortBuckets(merged)
	if limit > 0 && len(merged) > limit+1 {
		merged = merged[:limit+1]
	}
	return merged, nil
}

func sortBuckets(bs []audit.Bucket) {
	sort.SliceStable(bs, func(i, j int) bool {
		a, b := bs[i], bs[j]
		if !a.Created.Equal(b.Created) {
			return a.Created.After(b.Created)
		}
		if a.EntityType != b.EntityType {
			return audit.Above(a.EntityType, b.EntityType)
		}
		return a.MaxID > b.MaxID
	})
}

// cutPage trims a read-ahead result to a page that ends on a timestamp
// boundary. Buckets sharing the timestamp of the first bucket past the
// page move to the next page; when that would empty the page, every
// bucket of that timestamp is fetched instead.
func (s *Service) cutPage(ctx context.Context, parts []store.SourceGroupQuery, buckets []audit.Bucket, limit int) ([]audit.Bucket, bool, error) {
	if len(buckets) <= limit {
		return buckets, false, nil
	}
	boundary := buckets[limit].Created
	n := limit
	for n > 0 && buckets[n-1].Created.Equal(boundary) {
		n--
	}
	if n > 0 {
		return buckets[:n], true, nil
	}

	at := make([]store.SourceGroupQuery, len(parts))
	older := make([]store.SourceGroupQuery, len(parts))
	for i, p := range parts {
		at[i], older[i] = p, p
		at[i].Query.At = &boundary
		at[i].Query.Limit = 0
		older[i].Query.Before = &boundary
		older[i].Query.Limit = 1
	}
	all, err := s.dispatch(ctx, at, 0)
	if err != nil {
		return nil, false, err
	}
	rest, err := s.dispatch(ctx, older, 1)
	if err != nil {
		return nil, false, err
	}
	s.log.Debugw("event feed page extended to timestamp boundary", "created", boundary, "buckets", len(all))
	return all, len(rest) > 0, nil
}
