package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourneyaudit-server-go/internal/audit"
)

func i64(v int64) *int64 { return &v }

func TestEntrySelect_SingleEntityPage(t *testing.T) {
	sql, args := entrySelect(tables[audit.EntityMatch], EntryQuery{
		ReferenceIDLock: i64(5),
		Cursor:          i64(100),
		Limit:           50,
	}).Build()

	assert.Equal(t, "SELECT "+entryColumns+" FROM match_audits a"+
		" WHERE (a.reference_id_lock = $1 AND a.id < $2)"+
		" ORDER BY a.id DESC LIMIT $3", sql)
	assert.Equal(t, []any{int64(5), int64(100), 51}, args)
}

func TestEntrySelect_SearchFilters(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	sql, args := entrySelect(tables[audit.EntityScore], EntryQuery{
		Actor:       audit.ActorFilter{Kind: audit.ActorSystem},
		ActionTypes: []audit.ActionType{audit.ActionUpdated},
		From:        &from,
		To:          &to,
		Fields:      []string{"verificationStatus"},
		Value:       json.RawMessage("4"),
		Limit:       10,
	}).Build()

	assert.True(t, strings.HasPrefix(sql, "SELECT "+entryColumns+" FROM game_score_audits a WHERE (a.action_user_id IS NULL AND a.action_type = ANY($1) AND (a.created >= $2 AND a.created <= $3) AND "))
	assert.Contains(t, sql, "IS DISTINCT FROM")
	assert.Contains(t, sql, "= $6::jsonb")
	assert.True(t, strings.HasSuffix(sql, " ORDER BY a.id DESC LIMIT $9"))
	assert.Equal(t, []any{
		[]int32{1}, from, to,
		"verificationStatus", "verification_status",
		"4", "verificationStatus", "verification_status",
		11,
	}, args)
}

func TestEntrySelect_ValueIgnoredWithoutSingleField(t *testing.T) {
	sql, _ := entrySelect(tables[audit.EntityMatch], EntryQuery{
		Fields: []string{"name", "startTime"},
		Value:  json.RawMessage(`"x"`),
	}).Build()
	assert.NotContains(t, sql, "::jsonb")
	assert.NotContains(t, sql, "LIMIT")
}

func TestGroupSelect_Tournament(t *testing.T) {
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args := groupSelect(tables[audit.EntityTournament], GroupQuery{
		Before:    &before,
		AdminOnly: true,
		Limit:     50,
	}).Build()

	assert.Equal(t, "SELECT 0 AS entity_type, a.action_user_id, a.created, a.action_type,"+
		" a.reference_id_lock AS parent_entity_id, COUNT(*) AS row_count,"+
		" COUNT(DISTINCT a.reference_id_lock) AS entity_count,"+
		" (ARRAY_AGG(a.changes ORDER BY a.id DESC))[1] AS sample_changes,"+
		" (ARRAY_AGG(a.reference_id_lock ORDER BY a.id DESC))[1] AS sample_entity_id,"+
		" MAX(a.id) AS max_id"+
		" FROM tournament_audits a"+
		" WHERE (a.created < $1 AND a.action_user_id IS NOT NULL)"+
		" GROUP BY a.action_user_id, a.created, a.action_type, a.reference_id_lock"+
		" ORDER BY created DESC, entity_type ASC, max_id DESC LIMIT $2", sql)
	assert.Equal(t, []any{before, 51}, args)
}

func TestGroupSelect_ScoreJoinsUpToTournament(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args := groupSelect(tables[audit.EntityScore], GroupQuery{
		At:               &at,
		Actor:            audit.ExactActor(i64(7)),
		RootTournamentID: i64(1),
	}).Build()

	assert.Contains(t, sql, " FROM game_score_audits a"+
		" LEFT JOIN game_scores s ON s.id = a.reference_id_lock"+
		" LEFT JOIN games g ON g.id = s.game_id"+
		" LEFT JOIN matches m ON m.id = g.match_id"+
		" WHERE (m.tournament_id = $1 AND a.action_user_id = $2 AND a.created = $3)")
	assert.Contains(t, sql, "m.tournament_id AS parent_entity_id")
	assert.Contains(t, sql, "GROUP BY a.action_user_id, a.created, a.action_type, m.tournament_id")
	assert.NotContains(t, sql, "LIMIT")
	assert.Equal(t, []any{int64(1), int64(7), at}, args)
}

func TestUnionAll_NumbersAcrossParts(t *testing.T) {
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	parts := []*selectQuery{
		groupSelect(tables[audit.EntityTournament], GroupQuery{Before: &before, Limit: 5}),
		groupSelect(tables[audit.EntityMatch], GroupQuery{Before: &before, Fields: []string{"name"}, Limit: 5}),
	}
	sql, args := unionAll(parts, groupOrder, 51)

	require.Equal(t, 1, strings.Count(sql, " UNION ALL "))
	assert.Equal(t, 1, strings.Count(sql, " ORDER BY created DESC"))
	assert.Contains(t, sql, "FROM tournament_audits a WHERE a.created < $1 GROUP BY")
	assert.Contains(t, sql, "FROM match_audits a LEFT JOIN matches m ON m.id = a.reference_id_lock WHERE (a.created < $2 AND ")
	assert.True(t, strings.HasSuffix(sql, " ORDER BY created DESC, entity_type ASC, max_id DESC LIMIT $4"))
	assert.Equal(t, []any{before, before, "name", 51}, args)
}

func TestNoteSelect_Window(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	before := from.Add(time.Hour)
	sql, args := noteSelect(tables[audit.EntityGame], 9, NoteWindow{From: &from, Before: &before}).Build()
	assert.Equal(t, "SELECT n.id, n.reference_id, n.note, n.created, n.updated, n.admin_user_id"+
		" FROM game_admin_notes n WHERE (n.reference_id = $1 AND n.created >= $2 AND n.created < $3)"+
		" ORDER BY n.created DESC, n.id DESC", sql)
	assert.Equal(t, []any{int64(9), from, before}, args)
}

func TestEarliestCreatedSQL(t *testing.T) {
	assert.Equal(t, "SELECT MIN(created) FROM match_audits WHERE reference_id_lock = $1 AND id >= $2",
		earliestCreatedSQL(tables[audit.EntityMatch]))
}

func TestRootTournamentQuery(t *testing.T) {
	assert.Equal(t, "SELECT m.tournament_id FROM (SELECT $1::bigint AS reference_id_lock) a"+
		" LEFT JOIN games g ON g.id = a.reference_id_lock"+
		" LEFT JOIN matches m ON m.id = g.match_id", rootTournamentQuery(tables[audit.EntityGame]))
}

func TestAdminUserIDsQuery(t *testing.T) {
	q := adminUserIDsQuery()
	for _, table := range []string{"tournament_audits", "match_audits", "game_audits", "game_score_audits"} {
		assert.Contains(t, q, "FROM "+table+" WHERE action_user_id IS NOT NULL")
	}
	assert.Equal(t, 3, strings.Count(q, " UNION "))
}

func TestStoreSource(t *testing.T) {
	s := New(nil, nil)
	for _, et := range audit.AllEntityTypes {
		src, err := s.Source(et)
		require.NoError(t, err)
		assert.Equal(t, et, src.EntityType())
	}
	_, err := s.Source(audit.EntityType(9))
	assert.ErrorIs(t, err, audit.ErrInvalidFilter)
}
