package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"tourneyaudit-server-go/internal/audit"
)

// EntityNames returns display names for entities of type t. Types without
// a name column resolve to an empty map.
func (s *Store) EntityNames(ctx context.Context, t audit.EntityType, ids []int64) (_ map[int64]string, err error) {
	out := make(map[int64]string, len(ids))
	def, ok := tableFor(t)
	ids = uniqInt64(ids)
	if !ok || def.nameColumn == "" || len(ids) == 0 {
		return out, nil
	}
	ctx, span := s.startSpan(ctx, "store.EntityNames", attribute.String("audit.entity_type", t.String()))
	defer func() { span.end(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, `+def.nameColumn+` FROM `+def.entityTable+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, wrapErr(err)
		}
		if name.Valid {
			out[id] = name.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}

// ChildCounts returns, per parent id, how many entities of the immediate
// child type currently exist under it.
func (s *Store) ChildCounts(ctx context.Context, parent audit.EntityType, ids []int64) (_ map[int64]int, err error) {
	out := make(map[int64]int, len(ids))
	child, ok := parent.Child()
	ids = uniqInt64(ids)
	if !ok || len(ids) == 0 {
		return out, nil
	}
	def := tables[child]
	ctx, span := s.startSpan(ctx, "store.ChildCounts", attribute.String("audit.entity_type", child.String()))
	defer func() { span.end(err) }()

	col := def.parentColumn
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+col+`, COUNT(*) FROM `+def.entityTable+` WHERE `+col+` = ANY($1) GROUP BY `+col, ids)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, wrapErr(err)
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	// parents without children still have a total
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = 0
		}
	}
	return out, nil
}

func rootTournamentQuery(def tableDef) string {
	q := `SELECT ` + def.rootExpr + ` FROM (SELECT $1::bigint AS reference_id_lock) a`
	for _, j := range def.joins {
		q += " " + j
	}
	return q
}

// RootTournamentID walks the hierarchy from the given entity up to its
// tournament. A tournament is its own root. Nil means the chain is broken.
func (s *Store) RootTournamentID(ctx context.Context, t audit.EntityType, id int64) (_ *int64, err error) {
	def, ok := tableFor(t)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %d", audit.ErrInvalidFilter, int(t))
	}
	if t == audit.EntityTournament {
		return &id, nil
	}
	ctx, span := s.startSpan(ctx, "store.RootTournamentID", attribute.String("audit.entity_type", t.String()))
	defer func() { span.end(err) }()

	var root sql.NullInt64
	err = s.db.QueryRowContext(ctx, rootTournamentQuery(def), id).Scan(&root)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr(err)
	}
	return int64Ptr(root), nil
}
