package store

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"tourneyaudit-server-go/internal/audit"
)

// UsersByID resolves user references in one query. Unknown ids are
// absent from the result.
func (s *Store) UsersByID(ctx context.Context, ids []int64) (_ map[int64]audit.UserRef, err error) {
	out := make(map[int64]audit.UserRef, len(ids))
	ids = uniqInt64(ids)
	if len(ids) == 0 {
		return out, nil
	}
	ctx, span := s.startSpan(ctx, "store.UsersByID", attribute.Int("ids", len(ids)))
	defer func() { span.end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.player_id, p.osu_id, p.username
		FROM users u
		LEFT JOIN players p ON p.id = u.player_id
		WHERE u.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var u audit.UserRef
		var playerID, osuID sql.NullInt64
		var username sql.NullString
		if err := rows.Scan(&u.ID, &playerID, &osuID, &username); err != nil {
			return nil, wrapErr(err)
		}
		u.PlayerID = int64Ptr(playerID)
		u.OsuID = int64Ptr(osuID)
		u.Username = stringPtr(username)
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}

func adminUserIDsQuery() string {
	parts := make([]string, 0, len(audit.AllEntityTypes))
	for _, t := range audit.AllEntityTypes {
		def := tables[t]
		parts = append(parts, "SELECT action_user_id FROM "+def.auditTable+" WHERE action_user_id IS NOT NULL")
	}
	return strings.Join(parts, " UNION ") + " ORDER BY 1"
}

// AdminUserIDs lists every distinct actor across the audit tables.
func (s *Store) AdminUserIDs(ctx context.Context) (_ []int64, err error) {
	ctx, span := s.startSpan(ctx, "store.AdminUserIDs")
	defer func() { span.end(err) }()

	rows, err := s.db.QueryContext(ctx, adminUserIDsQuery())
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return ids, nil
}
