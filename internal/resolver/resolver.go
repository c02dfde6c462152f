// Package resolver batch-resolves the users and entities referenced by
// audit results. Each category costs at most one query per call.
package resolver

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tourneyaudit-server-go/internal/audit"
)

type UserLookup interface {
	UsersByID(ctx context.Context, ids []int64) (map[int64]audit.UserRef, error)
}

type Lookup interface {
	UserLookup
	EntityNames(ctx context.Context, t audit.EntityType, ids []int64) (map[int64]string, error)
	ChildCounts(ctx context.Context, parent audit.EntityType, ids []int64) (map[int64]int, error)
}

// References are the lookups attached to a page of results. Ids that
// could not be resolved are absent.
type References struct {
	Users map[int64]audit.UserRef               `json:"users"`
	Names map[audit.EntityType]map[int64]string `json:"names"`
}

func (r References) Name(t audit.EntityType, id int64) *string {
	n, ok := r.Names[t][id]
	if !ok {
		return nil
	}
	return &n
}

type Resolver struct {
	lookup Lookup
	users  UserLookup
	log    *zap.SugaredLogger
}

// New returns a Resolver. users, when non-nil, replaces lookup for user
// references (typically a cache in front of it).
func New(lookup Lookup, users UserLookup, log *zap.SugaredLogger) *Resolver {
	if users == nil {
		users = lookup
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{lookup: lookup, users: users, log: log}
}

type idSet map[int64]struct{}

func (s idSet) add(id int64) { s[id] = struct{}{} }

func (s idSet) slice() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// collector gathers ids per category before anything is queried.
type collector struct {
	users    idSet
	names    map[audit.EntityType]idSet
	children map[audit.EntityType]idSet
}

func newCollector() *collector {
	return &collector{
		users:    idSet{},
		names:    map[audit.EntityType]idSet{},
		children: map[audit.EntityType]idSet{},
	}
}

func (c *collector) user(id *int64) {
	if id != nil {
		c.users.add(*id)
	}
}

// embedded adds user ids stored inside diffs under known fields, from
// both sides of the change.
func (c *collector) embedded(changes audit.Changes) {
	for _, f := range audit.UserRefFields {
		ch, ok := changes.Get(f)
		if !ok {
			continue
		}
		if id, ok := audit.Int64Value(ch.OriginalValue); ok {
			c.users.add(id)
		}
		if id, ok := audit.Int64Value(ch.NewValue); ok {
			c.users.add(id)
		}
	}
}

func (c *collector) name(t audit.EntityType, id int64) {
	if c.names[t] == nil {
		c.names[t] = idSet{}
	}
	c.names[t].add(id)
}

func (c *collector) childTotal(parent audit.EntityType, id int64) {
	if c.children[parent] == nil {
		c.children[parent] = idSet{}
	}
	c.children[parent].add(id)
}

type resolved struct {
	References
	children map[audit.EntityType]map[int64]int
}

func (r *Resolver) run(ctx context.Context, c *collector) (resolved, error) {
	out := resolved{
		References: References{
			Users: map[int64]audit.UserRef{},
			Names: map[audit.EntityType]map[int64]string{},
		},
		children: map[audit.EntityType]map[int64]int{},
	}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	if len(c.users) > 0 {
		ids := c.users.slice()
		g.Go(func() error {
			users, err := r.users.UsersByID(ctx, ids)
			if err != nil {
				return err
			}
			if users != nil {
				mu.Lock()
				out.Users = users
				mu.Unlock()
			}
			return nil
		})
	}
	for t, set := range c.names {
		t, ids := t, set.slice()
		g.Go(func() error {
			names, err := r.lookup.EntityNames(ctx, t, ids)
			if err != nil {
				return err
			}
			mu.Lock()
			if len(names) > 0 {
				out.Names[t] = names
			}
			mu.Unlock()
			return nil
		})
	}
	for t, set := range c.children {
		t, ids := t, set.slice()
		g.Go(func() error {
			counts, err := r.lookup.ChildCounts(ctx, t, ids)
			if err != nil {
				return err
			}
			mu.Lock()
			out.children[t] = counts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resolved{}, err
	}
	r.log.Debugw("references resolved", "users", len(out.Users), "name_types", len(out.Names))
	return out, nil
}

// ResolveEvents fills entity names and child totals on events in place
// and returns the user and name maps for the page.
func (r *Resolver) ResolveEvents(ctx context.Context, events []audit.Event) (References, error) {
	c := newCollector()
	for _, ev := range events {
		c.user(ev.ActionUserID)
		c.embedded(ev.SampleChanges)
		c.name(ev.TopEntityType, ev.TopEntityID)
		if ev.ParentEntityID != nil {
			c.name(audit.EntityTournament, *ev.ParentEntityID)
		}
		if childTotalKnown(ev) {
			c.childTotal(ev.TopEntityType, ev.TopEntityID)
		}
	}
	res, err := r.run(ctx, c)
	if err != nil {
		return References{}, err
	}
	for i := range events {
		ev := &events[i]
		ev.TopEntityName = res.Name(ev.TopEntityType, ev.TopEntityID)
		if ev.ParentEntityID != nil {
			ev.ParentEntityName = res.Name(audit.EntityTournament, *ev.ParentEntityID)
		}
		if childTotalKnown(*ev) {
			if total, ok := res.children[ev.TopEntityType][ev.TopEntityID]; ok {
				ev.SetTotalChildCount(&total)
			}
		}
	}
	return res.References, nil
}

// childTotalKnown reports whether one top entity owns every affected
// child. With several top entities only the sample's children would be
// counted, so the total is left out.
func childTotalKnown(ev audit.Event) bool {
	return ev.IsCascade && ev.ChildAffectedCount != nil && ev.TopEntityCount <= 1
}

func (c *collector) entry(e audit.Entry) {
	c.user(e.ActionUserID)
	c.embedded(e.Changes)
	c.name(e.EntityType, e.ReferenceIDLock)
}

// ResolveEntries resolves actors, embedded user ids and entity names of
// raw entries.
func (r *Resolver) ResolveEntries(ctx context.Context, entries []audit.Entry) (References, error) {
	c := newCollector()
	for _, e := range entries {
		c.entry(e)
	}
	res, err := r.run(ctx, c)
	if err != nil {
		return References{}, err
	}
	return res.References, nil
}

// ResolveTimeline resolves everything a timeline page mentions: entry
// actors, note authors and cascade roots.
func (r *Resolver) ResolveTimeline(ctx context.Context, items []audit.TimelineItem) (References, error) {
	c := newCollector()
	for _, it := range items {
		switch {
		case it.Audit != nil:
			c.entry(it.Audit.Entry)
			if cc := it.Audit.Cascade; cc != nil {
				c.name(cc.RootEntityType, cc.RootEntityID)
			}
		case it.Note != nil:
			c.users.add(it.Note.AdminUserID)
		}
	}
	res, err := r.run(ctx, c)
	if err != nil {
		return References{}, err
	}
	return res.References, nil
}

// Users resolves ids in the order given, skipping unknown ones.
func (r *Resolver) Users(ctx context.Context, ids []int64) ([]audit.UserRef, error) {
	if len(ids) == 0 {
		return []audit.UserRef{}, nil
	}
	found, err := r.users.UsersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]audit.UserRef, 0, len(found))
	for _, id := range ids {
		if u, ok := found[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
