package store

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"tourneyaudit-server-go/internal/audit"
)

// NoteWindow bounds notes by created: From is inclusive, Before exclusive.
type NoteWindow struct {
	From   *time.Time
	Before *time.Time
}

func noteSelect(def tableDef, referenceID int64, w NoteWindow) *selectQuery {
	sel := newSelect(def.notesTable+" n", "n.id", "n.reference_id", "n.note", "n.created", "n.updated", "n.admin_user_id").
		Where(Cond("n.reference_id = ?", referenceID))
	if w.From != nil {
		sel.Where(Cond("n.created >= ?", *w.From))
	}
	if w.Before != nil {
		sel.Where(Cond("n.created < ?", *w.Before))
	}
	return sel.OrderBy("n.created DESC", "n.id DESC")
}

func (s *tableSource) Notes(ctx context.Context, referenceID int64, w NoteWindow) (_ []audit.Note, err error) {
	ctx, span := s.store.startSpan(ctx, "store.Notes", attribute.String("audit.entity_type", s.def.entityType.String()))
	defer func() { span.end(err) }()

	query, args := noteSelect(s.def, referenceID, w).Build()
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []audit.Note
	for rows.Next() {
		var n audit.Note
		var updated sql.NullTime
		if err := rows.Scan(&n.ID, &n.ReferenceID, &n.Note, &n.Created, &updated, &n.AdminUserID); err != nil {
			return nil, wrapErr(err)
		}
		n.EntityType = s.def.entityType
		n.Updated = timePtr(updated)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}
