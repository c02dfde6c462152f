package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"tourneyaudit-server-go/internal/audit"
)

// AuditSource is the audit log of one entity type.
type AuditSource interface {
	EntityType() audit.EntityType
	// Entries returns raw rows by id descending, reading one row past
	// q.Limit.
	Entries(ctx context.Context, q EntryQuery) ([]audit.Entry, error)
	// Groups returns rows grouped by actor, timestamp, action and
	// ancestor tournament, newest first.
	Groups(ctx context.Context, q GroupQuery) ([]audit.Bucket, error)
	// EntryCreated returns the timestamp of the row with the given id.
	EntryCreated(ctx context.Context, id int64) (time.Time, error)
	// EarliestCreatedFrom returns the oldest created of the entity's rows
	// with id >= fromID. created is not monotonic in id, so page windows
	// are bounded by this running minimum rather than a single row.
	EarliestCreatedFrom(ctx context.Context, referenceID, fromID int64) (time.Time, error)
	Notes(ctx context.Context, referenceID int64, w NoteWindow) ([]audit.Note, error)
}

// EntryQuery filters raw rows of one audit table.
type EntryQuery struct {
	ReferenceIDLock *int64
	// Cursor is exclusive: only rows with a smaller id are returned.
	Cursor      *int64
	Actor       audit.ActorFilter
	ActionTypes []audit.ActionType
	From, To    *time.Time
	At          *time.Time
	// Fields is an OR of "field actually changed". Value, when set,
	// additionally requires the single field's new value to equal it.
	Fields []string
	Value  json.RawMessage
	Limit  int
}

// GroupQuery filters grouped rows of one audit table.
type GroupQuery struct {
	// Before is an exclusive upper bound on created.
	Before      *time.Time
	At          *time.Time
	Actor       audit.ActorFilter
	AdminOnly   bool
	ActionTypes []audit.ActionType
	From, To    *time.Time
	Fields      []string
	// RootTournamentID restricts rows to one ancestor tournament.
	RootTournamentID *int64
	// Limit of zero reads every group; otherwise one group past Limit is
	// read.
	Limit int
}

// SourceGroupQuery pairs a grouped query with the table it runs on.
type SourceGroupQuery struct {
	EntityType audit.EntityType
	Query      GroupQuery
}

const entryColumns = "a.id, a.created, a.reference_id_lock, a.reference_id, a.action_user_id, a.action_type, a.changes"

var groupOrder = []string{"created DESC", "entity_type ASC", "max_id DESC"}

type tableSource struct {
	store *Store
	def   tableDef
}

func (s *tableSource) EntityType() audit.EntityType { return s.def.entityType }

func actorPredicate(f audit.ActorFilter) Predicate {
	switch f.Kind {
	case audit.ActorAdmin:
		return Cond("a.action_user_id IS NOT NULL")
	case audit.ActorSystem:
		return Cond("a.action_user_id IS NULL")
	case audit.ActorUser:
		return Cond("a.action_user_id = ?", f.UserID)
	}
	return nil
}

func actionTypesPredicate(types []audit.ActionType) Predicate {
	if len(types) == 0 {
		return nil
	}
	vals := make([]int32, 0, len(types))
	for _, t := range types {
		vals = append(vals, int32(t))
	}
	return Cond("a.action_type = ANY(?)", vals)
}

func timePredicates(from, to, at *time.Time) Predicate {
	var ps []Predicate
	if from != nil {
		ps = append(ps, Cond("a.created >= ?", *from))
	}
	if to != nil {
		ps = append(ps, Cond("a.created <= ?", *to))
	}
	if at != nil {
		ps = append(ps, Cond("a.created = ?", *at))
	}
	return And(ps...)
}

func fieldsPredicate(fields []string) Predicate {
	ps := make([]Predicate, 0, len(fields))
	for _, f := range fields {
		ps = append(ps, FieldChanged("a.changes", f))
	}
	return Or(ps...)
}

func entrySelect(def tableDef, q EntryQuery) *selectQuery {
	sel := newSelect(def.auditTable+" a", entryColumns)
	if q.ReferenceIDLock != nil {
		sel.Where(Cond("a.reference_id_lock = ?", *q.ReferenceIDLock))
	}
	if q.Cursor != nil {
		sel.Where(Cond("a.id < ?", *q.Cursor))
	}
	sel.Where(actorPredicate(q.Actor)).
		Where(actionTypesPredicate(q.ActionTypes)).
		Where(timePredicates(q.From, q.To, q.At)).
		Where(fieldsPredicate(q.Fields))
	if len(q.Value) > 0 && len(q.Fields) == 1 {
		sel.Where(FieldNewValueEquals("a.changes", q.Fields[0], q.Value))
	}
	sel.OrderBy("a.id DESC")
	if q.Limit > 0 {
		sel.Limit(q.Limit + 1)
	}
	return sel
}

func groupSelect(def tableDef, q GroupQuery) *selectQuery {
	sel := newSelect(def.auditTable+" a",
		itoa(int(def.entityType))+" AS entity_type",
		"a.action_user_id",
		"a.created",
		"a.action_type",
		def.rootExpr+" AS parent_entity_id",
		"COUNT(*) AS row_count",
		"COUNT(DISTINCT a.reference_id_lock) AS entity_count",
		"(ARRAY_AGG(a.changes ORDER BY a.id DESC))[1] AS sample_changes",
		"(ARRAY_AGG(a.reference_id_lock ORDER BY a.id DESC))[1] AS sample_entity_id",
		"MAX(a.id) AS max_id",
	).Join(def.joins...)

	if q.Before != nil {
		sel.Where(Cond("a.created < ?", *q.Before))
	}
	if q.AdminOnly {
		sel.Where(Cond("a.action_user_id IS NOT NULL"))
	}
	if q.RootTournamentID != nil {
		sel.Where(Cond(def.rootExpr+" = ?", *q.RootTournamentID))
	}
	sel.Where(actorPredicate(q.Actor)).
		Where(actionTypesPredicate(q.ActionTypes)).
		Where(timePredicates(q.From, q.To, q.At)).
		Where(fieldsPredicate(q.Fields)).
		GroupBy("a.action_user_id", "a.created", "a.action_type", def.rootExpr).
		OrderBy(groupOrder...)
	if q.Limit > 0 {
		sel.Limit(q.Limit + 1)
	}
	return sel
}

func (s *tableSource) Entries(ctx context.Context, q EntryQuery) (_ []audit.Entry, err error) {
	ctx, span := s.store.startSpan(ctx, "store.Entries", attribute.String("audit.entity_type", s.def.entityType.String()))
	defer func() { span.end(err) }()

	query, args := entrySelect(s.def, q).Build()
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var refID, userID sql.NullInt64
		var action int
		var changes []byte
		if err := rows.Scan(&e.ID, &e.Created, &e.ReferenceIDLock, &refID, &userID, &action, &changes); err != nil {
			return nil, wrapErr(err)
		}
		e.EntityType = s.def.entityType
		e.ReferenceID = int64Ptr(refID)
		e.ActionUserID = int64Ptr(userID)
		e.ActionType = audit.ActionType(action)
		if changes != nil {
			e.RawChanges = json.RawMessage(changes)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	s.store.log.Debugw("audit entries", "entity_type", s.def.entityType, "rows", len(out))
	return out, nil
}

func (s *tableSource) Groups(ctx context.Context, q GroupQuery) (_ []audit.Bucket, err error) {
	ctx, span := s.store.startSpan(ctx, "store.Groups", attribute.String("audit.entity_type", s.def.entityType.String()))
	defer func() { span.end(err) }()

	query, args := groupSelect(s.def, q).Build()
	out, err := s.store.queryBuckets(ctx, query, args)
	if err != nil {
		return nil, err
	}
	s.store.log.Debugw("audit groups", "entity_type", s.def.entityType, "rows", len(out))
	return out, nil
}

func (s *tableSource) EntryCreated(ctx context.Context, id int64) (time.Time, error) {
	var created time.Time
	err := s.store.db.QueryRowContext(ctx, `SELECT created FROM `+s.def.auditTable+` WHERE id = $1`, id).Scan(&created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, wrapErr(err)
	}
	return created, nil
}

func (s *tableSource) EarliestCreatedFrom(ctx context.Context, referenceID, fromID int64) (time.Time, error) {
	var created sql.NullTime
	err := s.store.db.QueryRowContext(ctx, earliestCreatedSQL(s.def), referenceID, fromID).Scan(&created)
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	if !created.Valid {
		return time.Time{}, ErrNotFound
	}
	return created.Time, nil
}

func earliestCreatedSQL(def tableDef) string {
	return `SELECT MIN(created) FROM ` + def.auditTable + ` WHERE reference_id_lock = $1 AND id >= $2`
}

// GroupedUnion runs the grouped query of every part as one UNION ALL
// statement, newest first, reading one group past limit when limit > 0.
func (s *Store) GroupedUnion(ctx context.Context, parts []SourceGroupQuery, limit int) (_ []audit.Bucket, err error) {
	if len(parts) == 0 {
		return nil, nil
	}
	ctx, span := s.startSpan(ctx, "store.GroupedUnion", attribute.Int("audit.sources", len(parts)))
	defer func() { span.end(err) }()

	selects := make([]*selectQuery, 0, len(parts))
	for _, p := range parts {
		def, ok := tableFor(p.EntityType)
		if !ok {
			return nil, fmt.Errorf("%w: unknown entity type %d", audit.ErrInvalidFilter, int(p.EntityType))
		}
		selects = append(selects, groupSelect(def, p.Query))
	}
	if limit > 0 {
		limit++
	}
	query, args := unionAll(selects, groupOrder, limit)
	out, err := s.queryBuckets(ctx, query, args)
	if err != nil {
		return nil, err
	}
	s.log.Debugw("audit grouped union", "sources", len(parts), "rows", len(out))
	return out, nil
}

func (s *Store) queryBuckets(ctx context.Context, query string, args []any) ([]audit.Bucket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []audit.Bucket
	for rows.Next() {
		var b audit.Bucket
		var entityType, action int
		var userID, parentID sql.NullInt64
		var sample []byte
		if err := rows.Scan(&entityType, &userID, &b.Created, &action, &parentID,
			&b.Count, &b.EntityCount, &sample, &b.SampleEntityID, &b.MaxID); err != nil {
			return nil, wrapErr(err)
		}
		b.EntityType = audit.EntityType(entityType)
		b.ActionType = audit.ActionType(action)
		b.ActionUserID = int64Ptr(userID)
		b.ParentEntityID = int64Ptr(parentID)
		if sample != nil {
			b.SampleChanges = json.RawMessage(sample)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}
