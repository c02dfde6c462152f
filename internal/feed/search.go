package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

// SearchFilter selects raw entries of one entity type.
type SearchFilter struct {
	EntityType      audit.EntityType
	ReferenceIDLock *int64
	Actor           audit.ActorFilter
	ActionTypes     []audit.ActionType
	From, To        *time.Time
	Fields          []string
	// Value matches the new value of the single field in Fields. It is
	// coerced: numbers and booleans compare as such, anything else as a
	// string.
	Value *string
}

type SearchPage struct {
	Items      []audit.Entry `json:"items"`
	NextCursor *int64        `json:"nextCursor"`
	HasMore    bool          `json:"hasMore"`
	resolver.References
}

func (s *Service) SearchAudits(ctx context.Context, f SearchFilter, cursor *int64, limit int) (_ SearchPage, err error) {
	ctx, span := s.start(ctx, "feed.SearchAudits")
	defer func() { finish(span, err) }()

	limit, err = s.pageSize(limit)
	if err != nil {
		return SearchPage{}, err
	}
	q, err := searchQuery(f)
	if err != nil {
		return SearchPage{}, err
	}
	q.Cursor = cursor
	q.Limit = limit

	src, err := s.store.Source(f.EntityType)
	if err != nil {
		return SearchPage{}, err
	}
	rows, err := src.Entries(ctx, q)
	if err != nil {
		return SearchPage{}, err
	}

	page := SearchPage{Items: []audit.Entry{}}
	if len(rows) > limit {
		rows = rows[:limit]
		page.HasMore = true
		last := rows[len(rows)-1].ID
		page.NextCursor = &last
	}
	for _, e := range rows {
		e.Normalize()
		if e.Meaningful() {
			page.Items = append(page.Items, e)
		}
	}
	page.References, err = s.resolver.ResolveEntries(ctx, page.Items)
	if err != nil {
		return SearchPage{}, err
	}
	return page, nil
}

func searchQuery(f SearchFilter) (store.EntryQuery, error) {
	if !f.EntityType.Valid() {
		return store.EntryQuery{}, fmt.Errorf("%w: unknown entity type %d", audit.ErrInvalidFilter, int(f.EntityType))
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return store.EntryQuery{}, fmt.Errorf("%w: from is after to", audit.ErrInvalidFilter)
	}
	for _, a := range f.ActionTypes {
		if !a.Valid() {
			return store.EntryQuery{}, fmt.Errorf("%w: unknown action type %d", audit.ErrInvalidFilter, int(a))
		}
	}
	fields, err := audit.ValidateFields(f.EntityType, f.Fields)
	if err != nil {
		return store.EntryQuery{}, err
	}
	q := store.EntryQuery{
		ReferenceIDLock: f.ReferenceIDLock,
		Actor:           f.Actor,
		ActionTypes:     f.ActionTypes,
		From:            f.From,
		To:              f.To,
		Fields:          fields,
	}
	if f.Value != nil {
		if len(fields) != 1 {
			return store.EntryQuery{}, fmt.Errorf("%w: a value filter needs exactly one field", audit.ErrInvalidFilter)
		}
		q.Value = audit.CoerceValue(*f.Value)
	}
	return q, nil
}

// ListAdminUsers returns every user who has acted on an audited entity,
// ordered by username.
func (s *Service) ListAdminUsers(ctx context.Context) (_ []audit.UserRef, err error) {
	ctx, span := s.start(ctx, "feed.ListAdminUsers")
	defer func() { finish(span, err) }()

	ids, err := s.store.AdminUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.resolver.Users(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i].Username, users[j].Username
		switch {
		case a == nil && b == nil:
			return users[i].ID < users[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		}
		if c := strings.Compare(strings.ToLower(*a), strings.ToLower(*b)); c != 0 {
			return c < 0
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}
