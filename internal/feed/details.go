package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

// DetailsCursor points at the last entry returned by GetEventDetails.
// Entries are walked table by table in hierarchy order, id descending.
type DetailsCursor struct {
	EntityType audit.EntityType
	ID         int64
}

func (c DetailsCursor) String() string {
	return c.EntityType.String() + ":" + strconv.FormatInt(c.ID, 10)
}

func (c DetailsCursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func ParseDetailsCursor(s string) (DetailsCursor, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return DetailsCursor{}, fmt.Errorf("%w: malformed cursor %q", audit.ErrInvalidFilter, s)
	}
	t, err := audit.ParseEntityType(typ)
	if err != nil {
		return DetailsCursor{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return DetailsCursor{}, fmt.Errorf("%w: malformed cursor %q", audit.ErrInvalidFilter, s)
	}
	return DetailsCursor{EntityType: t, ID: n}, nil
}

// DetailsQuery identifies one grouped event by actor and timestamp.
type DetailsQuery struct {
	ActionUserID *int64
	Created      time.Time
	EntityType   *audit.EntityType
	// EntityTypes scopes the walk when EntityType is nil. Empty means the
	// feed's default scope, so entries line up with the event's entryCount.
	EntityTypes  []audit.EntityType
	Cursor       *DetailsCursor
	Limit        int
}

type DetailsPage struct {
	Entries    []audit.Entry  `json:"entries"`
	NextCursor *DetailsCursor `json:"nextCursor"`
	HasMore    bool           `json:"hasMore"`
	resolver.References
}

func (s *Service) detailsScope(q DetailsQuery) ([]audit.EntityType, error) {
	var types []audit.EntityType
	switch {
	case q.EntityType != nil:
		types = []audit.EntityType{*q.EntityType}
	case len(q.EntityTypes) > 0:
		types = q.EntityTypes
	default:
		types = s.cfg.DefaultEntityTypes
	}

	scoped := make([]audit.EntityType, 0, len(types))
	seen := map[audit.EntityType]bool{}
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown entity type %d", audit.ErrInvalidFilter, int(t))
		}
		if !seen[t] {
			seen[t] = true
			scoped = append(scoped, t)
		}
	}
	if q.Cursor != nil && !seen[q.Cursor.EntityType] {
		return nil, fmt.Errorf("%w: cursor does not match entity type", audit.ErrInvalidFilter)
	}
	audit.SortByHierarchy(scoped)
	return scoped, nil
}

// GetEventDetails expands a grouped event back into its raw entries.
func (s *Service) GetEventDetails(ctx context.Context, q DetailsQuery) (_ DetailsPage, err error) {
	ctx, span := s.start(ctx, "feed.GetEventDetails")
	defer func() { finish(span, err) }()

	limit, err := s.pageSize(q.Limit)
	if err != nil {
		return DetailsPage{}, err
	}
	if q.Created.IsZero() {
		return DetailsPage{}, fmt.Errorf("%w: created is required", audit.ErrInvalidFilter)
	}

	types, err := s.detailsScope(q)
	if err != nil {
		return DetailsPage{}, err
	}

	created := q.Created
	var out []audit.Entry
	for _, t := range types {
		if q.Cursor != nil && audit.Above(t, q.Cursor.EntityType) {
			continue
		}
		src, err := s.store.Source(t)
		if err != nil {
			return DetailsPage{}, err
		}
		eq := store.EntryQuery{
			Actor: audit.ExactActor(q.ActionUserID),
			At:    &created,
			Limit: max(limit-len(out), 1),
		}
		if q.Cursor != nil && q.Cursor.EntityType == t {
			eq.Cursor = &q.Cursor.ID
		}
		rows, err := src.Entries(ctx, eq)
		if err != nil {
			return DetailsPage{}, err
		}
		out = append(out, rows...)
		if len(out) > limit {
			break
		}
	}

	page := DetailsPage{Entries: []audit.Entry{}}
	if len(out) > limit {
		out = out[:limit]
		page.HasMore = true
		last := out[len(out)-1]
		page.NextCursor = &DetailsCursor{EntityType: last.EntityType, ID: last.ID}
	}
	for i := range out {
		out[i].Normalize()
	}
	page.Entries = append(page.Entries, out...)
	page.References, err = s.resolver.ResolveEntries(ctx, page.Entries)
	if err != nil {
		return DetailsPage{}, err
	}
	return page, nil
}
