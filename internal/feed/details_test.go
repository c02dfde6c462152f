package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourneyaudit-server-go/internal/audit"
)

func detailsFixture() (*fakeStore, time.Time) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newFakeStore()
	entry := func(id int64, user *int64, at time.Time) audit.Entry {
		return audit.Entry{ID: id, ReferenceIDLock: id, ActionUserID: user, ActionType: audit.ActionUpdated, Created: at}
	}
	st.sources[audit.EntityTournament].entries = []audit.Entry{entry(1, i64(7), created)}
	st.sources[audit.EntityMatch].entries = []audit.Entry{
		entry(10, i64(7), created),
		entry(11, i64(7), created),
		entry(12, i64(7), created),
		entry(13, i64(8), created),
		entry(14, i64(7), created.Add(time.Second)),
	}
	st.sources[audit.EntityGame].entries = []audit.Entry{entry(100, i64(7), created)}
	return st, created
}

type detailKey struct {
	t  audit.EntityType
	id int64
}

func detailKeys(entries []audit.Entry) []detailKey {
	out := make([]detailKey, 0, len(entries))
	for _, e := range entries {
		out = append(out, detailKey{e.EntityType, e.ID})
	}
	return out
}

func TestGetEventDetails_WalksTablesInHierarchyOrder(t *testing.T) {
	st, created := detailsFixture()
	svc := NewService(st, fakeResolver{}, Config{}, nil)
	ctx := context.Background()

	all := audit.AllEntityTypes
	p1, err := svc.GetEventDetails(ctx, DetailsQuery{ActionUserID: i64(7), Created: created, EntityTypes: all, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []detailKey{{audit.EntityTournament, 1}, {audit.EntityMatch, 12}}, detailKeys(p1.Entries))
	require.True(t, p1.HasMore)
	assert.Equal(t, "match:12", p1.NextCursor.String())

	p2, err := svc.GetEventDetails(ctx, DetailsQuery{ActionUserID: i64(7), Created: created, EntityTypes: all, Cursor: p1.NextCursor, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []detailKey{{audit.EntityMatch, 11}, {audit.EntityMatch, 10}}, detailKeys(p2.Entries))
	require.True(t, p2.HasMore)
	assert.Equal(t, "match:10", p2.NextCursor.String())
	assert.Empty(t, st.sources[audit.EntityTournament].entryQueries[1:])

	p3, err := svc.GetEventDetails(ctx, DetailsQuery{ActionUserID: i64(7), Created: created, EntityTypes: all, Cursor: p2.NextCursor, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []detailKey{{audit.EntityGame, 100}}, detailKeys(p3.Entries))
	assert.False(t, p3.HasMore)
	assert.Nil(t, p3.NextCursor)
}

func TestGetEventDetails_SingleType(t *testing.T) {
	st, created := detailsFixture()
	svc := NewService(st, fakeResolver{}, Config{}, nil)
	match := audit.EntityMatch

	page, err := svc.GetEventDetails(context.Background(), DetailsQuery{ActionUserID: i64(7), Created: created, EntityType: &match})
	require.NoError(t, err)
	assert.Equal(t, []detailKey{{match, 12}, {match, 11}, {match, 10}}, detailKeys(page.Entries))
	assert.Empty(t, st.sources[audit.EntityTournament].entryQueries)
}

func TestGetEventDetails_SystemActor(t *testing.T) {
	st, created := detailsFixture()
	st.sources[audit.EntityScore].entries = []audit.Entry{{ID: 5, ActionType: audit.ActionUpdated, Created: created}}
	svc := NewService(st, fakeResolver{}, Config{}, nil)

	page, err := svc.GetEventDetails(context.Background(), DetailsQuery{Created: created, EntityTypes: []audit.EntityType{audit.EntityScore}})
	require.NoError(t, err)
	assert.Equal(t, []detailKey{{audit.EntityScore, 5}}, detailKeys(page.Entries))
}

func TestGetEventDetails_DefaultScopeMatchesFeed(t *testing.T) {
	st, created := detailsFixture()
	bucket := func(count int, sample int64) audit.Bucket {
		return audit.Bucket{ActionUserID: i64(7), Created: created, ActionType: audit.ActionUpdated,
			ParentEntityID: i64(1), Count: count, EntityCount: count, SampleEntityID: sample}
	}
	st.sources[audit.EntityTournament].buckets = []audit.Bucket{bucket(1, 1)}
	st.sources[audit.EntityMatch].buckets = []audit.Bucket{bucket(3, 12)}
	st.sources[audit.EntityGame].buckets = []audit.Bucket{bucket(1, 100)}
	svc := NewService(st, fakeResolver{}, Config{}, nil)
	ctx := context.Background()

	feedPage, err := svc.GetEventFeed(ctx, EventFilter{}, nil, 10)
	require.NoError(t, err)
	require.Len(t, feedPage.Events, 1)
	assert.Equal(t, 4, feedPage.Events[0].EntryCount)

	page, err := svc.GetEventDetails(ctx, DetailsQuery{ActionUserID: i64(7), Created: created, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []detailKey{
		{audit.EntityTournament, 1}, {audit.EntityMatch, 12}, {audit.EntityMatch, 11}, {audit.EntityMatch, 10},
	}, detailKeys(page.Entries))
	assert.Empty(t, st.sources[audit.EntityGame].entryQueries)
	assert.Len(t, page.Entries, feedPage.Events[0].EntryCount)
}

func TestGetEventDetails_InvalidInput(t *testing.T) {
	st, created := detailsFixture()
	svc := NewService(st, fakeResolver{}, Config{}, nil)
	ctx := context.Background()
	game := audit.EntityGame

	_, err := svc.GetEventDetails(ctx, DetailsQuery{ActionUserID: i64(7)})
	assert.ErrorIs(t, err, audit.ErrInvalidFilter)

	_, err = svc.GetEventDetails(ctx, DetailsQuery{
		Created:    created,
		EntityType: &game,
		Cursor:     &DetailsCursor{EntityType: audit.EntityMatch, ID: 3},
	})
	assert.ErrorIs(t, err, audit.ErrInvalidFilter)

	_, err = svc.GetEventDetails(ctx, DetailsQuery{Created: created, Cursor: &DetailsCursor{EntityType: audit.EntityGame, ID: 3}})
	assert.ErrorIs(t, err, audit.ErrInvalidFilter)

	_, err = svc.GetEventDetails(ctx, DetailsQuery{Created: created, EntityTypes: []audit.EntityType{audit.EntityType(9)}})
	assert.ErrorIs(t, err, audit.ErrInvalidFilter)
}

func TestParseDetailsCursor(t *testing.T) {
	c, err := ParseDetailsCursor("score:42")
	require.NoError(t, err)
	assert.Equal(t, DetailsCursor{EntityType: audit.EntityScore, ID: 42}, c)
	assert.Equal(t, "score:42", c.String())

	for _, bad := range []string{"", "42", "match:", "match:x", "match:-1", "player:3"} {
		_, err := ParseDetailsCursor(bad)
		assert.ErrorIs(t, err, audit.ErrInvalidFilter, bad)
	}
}
