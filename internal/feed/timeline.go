package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

type TimelinePage struct {
	Items      []audit.TimelineItem `json:"items"`
	NextCursor *int64               `json:"nextCursor"`
	HasMore    bool                 `json:"hasMore"`
	resolver.References
}

// GetEntityTimeline returns one entity's audit entries and admin notes,
// newest first. cursor is the id of the last entry of the previous page.
// Notes are attached to the page whose time window contains them.
func (s *Service) GetEntityTimeline(ctx context.Context, t audit.EntityType, id int64, cursor *int64, limit int) (_ TimelinePage, err error) {
	ctx, span := s.start(ctx, "feed.GetEntityTimeline")
	defer func() { finish(span, err) }()

	limit, err = s.pageSize(limit)
	if err != nil {
		return TimelinePage{}, err
	}
	src, err := s.store.Source(t)
	if err != nil {
		return TimelinePage{}, err
	}

	rows, err := src.Entries(ctx, store.EntryQuery{ReferenceIDLock: &id, Cursor: cursor, Limit: limit})
	if err != nil {
		return TimelinePage{}, err
	}
	page := TimelinePage{}
	if len(rows) > limit {
		rows = rows[:limit]
		page.HasMore = true
		last := rows[len(rows)-1].ID
		page.NextCursor = &last
	}

	// Windows are bounded by the oldest created at or above each page
	// edge, so consecutive pages never share a note even when created
	// runs backwards against id.
	var window store.NoteWindow
	if page.HasMore {
		from, err := src.EarliestCreatedFrom(ctx, id, rows[len(rows)-1].ID)
		if err != nil {
			return TimelinePage{}, err
		}
		window.From = &from
	}
	if cursor != nil {
		_, err := src.EntryCreated(ctx, *cursor)
		var before time.Time
		if err == nil {
			before, err = src.EarliestCreatedFrom(ctx, id, *cursor)
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return TimelinePage{}, fmt.Errorf("%w: unknown cursor %d", audit.ErrInvalidFilter, *cursor)
			}
			return TimelinePage{}, err
		}
		window.Before = &before
	}

	entries := make([]audit.TimelineEntry, 0, len(rows))
	for _, e := range rows {
		e.Normalize()
		if !e.Meaningful() {
			continue
		}
		entries = append(entries, audit.TimelineEntry{Entry: e})
	}

	if err := s.attachCascades(ctx, t, id, entries); err != nil {
		return TimelinePage{}, err
	}

	notes, err := src.Notes(ctx, id, window)
	if err != nil {
		return TimelinePage{}, err
	}

	page.Items = audit.MergeTimeline(entries, notes)
	page.References, err = s.resolver.ResolveTimeline(ctx, page.Items)
	if err != nil {
		return TimelinePage{}, err
	}
	s.log.Debugw("timeline", "entity_type", t, "entity_id", id, "entries", len(entries), "notes", len(notes))
	return page, nil
}

type cascadeKey struct {
	system  bool
	userID  int64
	created int64
}

// attachCascades annotates verification updates that were part of a
// larger action rooted in the same tournament.
func (s *Service) attachCascades(ctx context.Context, t audit.EntityType, id int64, entries []audit.TimelineEntry) error {
	pending := map[cascadeKey][]int{}
	var order []cascadeKey
	for i, e := range entries {
		if e.ActionType != audit.ActionUpdated || !audit.TouchesVerification(e.Changes) {
			continue
		}
		k := cascadeKey{system: e.ActionUserID == nil, created: e.Created.UnixNano()}
		if e.ActionUserID != nil {
			k.userID = *e.ActionUserID
		}
		if _, ok := pending[k]; !ok {
			order = append(order, k)
		}
		pending[k] = append(pending[k], i)
	}
	if len(order) == 0 {
		return nil
	}

	root, err := s.store.RootTournamentID(ctx, t, id)
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, k := range order {
		idx := pending[k]
		e := entries[idx[0]].Entry
		g.Go(func() error {
			cc, err := s.cascadeContext(gctx, t, id, *root, e)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, i := range idx {
				entries[i].Cascade = cc
			}
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// cascadeContext looks for rows of every audit table written by the same
// actor at the same instant under the same tournament, and assembles them
// as the feed would.
func (s *Service) cascadeContext(ctx context.Context, t audit.EntityType, id, root int64, e audit.Entry) (*audit.CascadeContext, error) {
	created := e.Created
	q := store.GroupQuery{
		At:               &created,
		Actor:            audit.ExactActor(e.ActionUserID),
		RootTournamentID: &root,
	}
	buckets, err := s.fanout(ctx, scopeParts(audit.AllEntityTypes, q), 0)
	if err != nil {
		return nil, err
	}

	own := false
	for _, b := range buckets {
		if b.EntityType == t {
			own = true
			break
		}
	}
	if !own {
		buckets = append(buckets, audit.Bucket{
			EntityType:     t,
			ActionUserID:   e.ActionUserID,
			Created:        created,
			ActionType:     e.ActionType,
			ParentEntityID: &root,
			Count:          1,
			EntityCount:    1,
			SampleChanges:  e.Changes.Raw(),
			SampleEntityID: id,
			MaxID:          e.ID,
		})
	}

	events := audit.Assemble(buckets)
	for _, ev := range events {
		if cc := audit.ContextFromEvent(ev); cc != nil {
			return cc, nil
		}
	}
	return nil, nil
}

func scopeParts(types []audit.EntityType, q store.GroupQuery) []store.SourceGroupQuery {
	parts := make([]store.SourceGroupQuery, 0, len(types))
	for _, t := range types {
		parts = append(parts, store.SourceGroupQuery{EntityType: t, Query: q})
	}
	return parts
}
