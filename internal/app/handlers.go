package app

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/feed"
)

func (a *App) handleTimeline(w http.ResponseWriter, r *http.Request) {
	t, err := audit.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	cursor, err := parseOptionalInt64(q, "cursor")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	page, err := a.feed.GetEntityTimeline(r.Context(), t, id, cursor, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f feed.EventFilter
	var err error
	if f.EntityTypes, err = parseEntityTypes(q, "entityTypes"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.ActionTypes, err = parseActionTypes(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.Actor, err = parseActor(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.AdminOnly, err = parseBool(q, "adminOnly"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.From, f.To, err = parseRange(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.Fields, err = parseTypedFields(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	cursor, err := parseOptionalTime(q, "cursor")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	page, err := a.feed.GetEventFeed(r.Context(), f, cursor, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) handleEventDetails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var dq feed.DetailsQuery

	system, err := parseBool(q, "system")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dq.ActionUserID, err = parseOptionalInt64(q, "actionUserId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if system == (dq.ActionUserID != nil) {
		a.writeError(w, r, invalid("exactly one of actionUserId or system=true is required"))
		return
	}
	created, err := parseOptionalTime(q, "created")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if created == nil {
		a.writeError(w, r, invalid("created is required"))
		return
	}
	dq.Created = *created
	if s := strings.TrimSpace(q.Get("entityType")); s != "" {
		t, err := audit.ParseEntityType(s)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		dq.EntityType = &t
	}
	if dq.EntityTypes, err = parseEntityTypes(q, "entityTypes"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if s := strings.TrimSpace(q.Get("cursor")); s != "" {
		c, err := feed.ParseDetailsCursor(s)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		dq.Cursor = &c
	}
	if dq.Limit, err = parseLimit(q); err != nil {
		a.writeError(w, r, err)
		return
	}

	page, err := a.feed.GetEventDetails(r.Context(), dq)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f feed.SearchFilter
	var err error

	s := strings.TrimSpace(q.Get("entityType"))
	if s == "" {
		a.writeError(w, r, invalid("entityType is required"))
		return
	}
	if f.EntityType, err = audit.ParseEntityType(s); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.ReferenceIDLock, err = parseOptionalInt64(q, "referenceIdLock"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.Actor, err = parseActor(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.ActionTypes, err = parseActionTypes(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.From, f.To, err = parseRange(q); err != nil {
		a.writeError(w, r, err)
		return
	}
	f.Fields = splitCSVValues(q["fields"])
	if q.Has("value") {
		v := q.Get("value")
		f.Value = &v
	}
	cursor, err := parseOptionalInt64(q, "cursor")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	page, err := a.feed.SearchAudits(r.Context(), f, cursor, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) handleAdmins(w http.ResponseWriter, r *http.Request) {
	users, err := a.feed.ListAdminUsers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []audit.UserRef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{audit.ErrInvalidFilter}, args...)...)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitCSVValues accepts both repeated parameters and comma-separated lists.
func splitCSVValues(vals []string) []string {
	var out []string
	for _, v := range vals {
		out = append(out, splitCSV(v)...)
	}
	return out
}

func parseID(name, s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, invalid("%s must be a positive integer", name)
	}
	return n, nil
}

func parseOptionalInt64(q url.Values, name string) (*int64, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return nil, nil
	}
	n, err := parseID(name, s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseLimit(q url.Values) (int, error) {
	s := strings.TrimSpace(q.Get("limit"))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, invalid("limit must be a non-negative integer")
	}
	return n, nil
}

func parseBool(q url.Values, name string) (bool, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, invalid("%s must be a boolean", name)
	}
	return b, nil
}

func parseOptionalTime(q url.Values, name string) (*time.Time, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, invalid("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func parseRange(q url.Values) (from, to *time.Time, err error) {
	if from, err = parseOptionalTime(q, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = parseOptionalTime(q, "to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func parseEntityTypes(q url.Values, name string) ([]audit.EntityType, error) {
	vals := splitCSVValues(q[name])
	if len(vals) == 0 {
		return nil, nil
	}
	out := make([]audit.EntityType, 0, len(vals))
	for _, v := range vals {
		t, err := audit.ParseEntityType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseActionTypes(q url.Values) ([]audit.ActionType, error) {
	vals := splitCSVValues(q["actionTypes"])
	if len(vals) == 0 {
		return nil, nil
	}
	out := make([]audit.ActionType, 0, len(vals))
	for _, v := range vals {
		t, err := audit.ParseActionType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// parseActor reads actionUserId or actor=admin|system. Both at once is an
// error.
func parseActor(q url.Values) (audit.ActorFilter, error) {
	id, err := parseOptionalInt64(q, "actionUserId")
	if err != nil {
		return audit.ActorFilter{}, err
	}
	kind := strings.ToLower(strings.TrimSpace(q.Get("actor")))
	if id != nil {
		if kind != "" {
			return audit.ActorFilter{}, invalid("actor and actionUserId are mutually exclusive")
		}
		return audit.ActorFilter{Kind: audit.ActorUser, UserID: *id}, nil
	}
	switch kind {
	case "", "any":
		return audit.ActorFilter{}, nil
	case "admin":
		return audit.ActorFilter{Kind: audit.ActorAdmin}, nil
	case "system":
		return audit.ActorFilter{Kind: audit.ActorSystem}, nil
	}
	return audit.ActorFilter{}, invalid("unknown actor %q", kind)
}

// parseTypedFields reads fields=<type>.<field> into a per-type map.
func parseTypedFields(q url.Values) (map[audit.EntityType][]string, error) {
	vals := splitCSVValues(q["fields"])
	if len(vals) == 0 {
		return nil, nil
	}
	out := make(map[audit.EntityType][]string)
	for _, v := range vals {
		typ, field, ok := strings.Cut(v, ".")
		if !ok || field == "" {
			return nil, invalid("field %q must be written as <entityType>.<field>", v)
		}
		t, err := audit.ParseEntityType(typ)
		if err != nil {
			return nil, err
		}
		out[t] = append(out[t], field)
	}
	return out, nil
}
