package store

import "strings"

// selectQuery assembles one SELECT. Placeholders are numbered when the
// statement is rendered, so parts can be combined into a UNION.
type selectQuery struct {
	columns []string
	from    string
	joins   []string
	where   []Predicate
	groupBy []string
	orderBy []string
	limit   int
}

func newSelect(from string, columns ...string) *selectQuery {
	return &selectQuery{from: from, columns: columns}
}

func (q *selectQuery) Join(joins ...string) *selectQuery {
	q.joins = append(q.joins, joins...)
	return q
}

func (q *selectQuery) Where(p Predicate) *selectQuery {
	if p != nil {
		q.where = append(q.where, p)
	}
	return q
}

func (q *selectQuery) GroupBy(cols ...string) *selectQuery {
	q.groupBy = append(q.groupBy, cols...)
	return q
}

func (q *selectQuery) OrderBy(cols ...string) *selectQuery {
	q.orderBy = append(q.orderBy, cols...)
	return q
}

// Limit caps the result; zero or less means no cap.
func (q *selectQuery) Limit(n int) *selectQuery {
	q.limit = n
	return q
}

func (q *selectQuery) render(w *sqlWriter, tail bool) {
	w.write("SELECT ", strings.Join(q.columns, ", "), " FROM ", q.from)
	for _, j := range q.joins {
		w.write(" ", j)
	}
	if where := And(q.where...); where != nil {
		w.write(" WHERE ")
		where.render(w)
	}
	if len(q.groupBy) > 0 {
		w.write(" GROUP BY ", strings.Join(q.groupBy, ", "))
	}
	if tail {
		renderTail(w, q.orderBy, q.limit)
	}
}

func renderTail(w *sqlWriter, orderBy []string, limit int) {
	if len(orderBy) > 0 {
		w.write(" ORDER BY ", strings.Join(orderBy, ", "))
	}
	if limit > 0 {
		w.write(" LIMIT ", w.bind(limit))
	}
}

func (q *selectQuery) Build() (string, []any) {
	var w sqlWriter
	q.render(&w, true)
	return w.b.String(), w.args
}

// unionAll combines parts with UNION ALL under one ORDER BY and LIMIT.
// The parts' own ordering and limits are ignored.
func unionAll(parts []*selectQuery, orderBy []string, limit int) (string, []any) {
	var w sqlWriter
	for i, p := range parts {
		if i > 0 {
			w.write(" UNION ALL ")
		}
		p.render(&w, false)
	}
	renderTail(&w, orderBy, limit)
	return w.b.String(), w.args
}
