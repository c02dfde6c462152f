package audit

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned for malformed entity type, field or paging input.
var ErrInvalidFilter = errors.New("invalid filter")

type EntityType int

const (
	EntityTournament EntityType = iota
	EntityMatch
	EntityGame
	EntityScore
)

// AllEntityTypes lists every entity type from the top of the hierarchy down.
var AllEntityTypes = []EntityType{EntityTournament, EntityMatch, EntityGame, EntityScore}

// hierarchyRank is the total order Tournament > Match > Game > Score.
// Lower rank means higher in the tree. It is kept separate from the
// numeric enum values on purpose.
var hierarchyRank = map[EntityType]int{
	EntityTournament: 0,
	EntityMatch:      1,
	EntityGame:       2,
	EntityScore:      3,
}

var immediateChild = map[EntityType]EntityType{
	EntityTournament: EntityMatch,
	EntityMatch:      EntityGame,
	EntityGame:       EntityScore,
}

var entityNames = map[EntityType]string{
	EntityTournament: "tournament",
	EntityMatch:      "match",
	EntityGame:       "game",
	EntityScore:      "score",
}

var entityPlurals = map[EntityType]string{
	EntityTournament: "tournaments",
	EntityMatch:      "matches",
	EntityGame:       "games",
	EntityScore:      "scores",
}

func (t EntityType) Valid() bool {
	_, ok := hierarchyRank[t]
	return ok
}

func (t EntityType) String() string {
	if n, ok := entityNames[t]; ok {
		return n
	}
	return "EntityType(" + strconv.Itoa(int(t)) + ")"
}

// Rank returns the position of t in the hierarchy; 0 is the root.
func (t EntityType) Rank() int {
	if r, ok := hierarchyRank[t]; ok {
		return r
	}
	return len(hierarchyRank)
}

// Child returns the entity type immediately below t.
func (t EntityType) Child() (EntityType, bool) {
	c, ok := immediateChild[t]
	return c, ok
}

// Noun returns the singular or plural display noun for n instances of t.
func (t EntityType) Noun(n int) string {
	if n == 1 {
		return t.String()
	}
	if p, ok := entityPlurals[t]; ok {
		return p
	}
	return t.String()
}

// Above reports whether a sits strictly higher in the hierarchy than b.
func Above(a, b EntityType) bool {
	return a.Rank() < b.Rank()
}

// SortByHierarchy orders types from the root down, stable for duplicates.
func SortByHierarchy(types []EntityType) {
	sort.SliceStable(types, func(i, j int) bool { return Above(types[i], types[j]) })
}

func (t EntityType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: entity type %d", ErrInvalidFilter, int(t))
	}
	return []byte(t.String()), nil
}

func (t *EntityType) UnmarshalText(b []byte) error {
	v, err := ParseEntityType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseEntityType accepts a wire name ("match", "matches", "Match") or the
// numeric enum value.
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		t := EntityType(n)
		if t.Valid() {
			return t, nil
		}
		return 0, fmt.Errorf("%w: unknown entity type %q", ErrInvalidFilter, s)
	}
	for t, name := range entityNames {
		if s == name || s == entityPlurals[t] {
			return t, nil
		}
	}
	if s == "gamescore" || s == "game_score" || s == "game_scores" {
		return EntityScore, nil
	}
	return 0, fmt.Errorf("%w: unknown entity type %q", ErrInvalidFilter, s)
}

type ActionType int

const (
	ActionCreated ActionType = iota
	ActionUpdated
	ActionDeleted
)

var actionNames = map[ActionType]string{
	ActionCreated: "created",
	ActionUpdated: "updated",
	ActionDeleted: "deleted",
}

func (a ActionType) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a ActionType) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "ActionType(" + strconv.Itoa(int(a)) + ")"
}

func (a ActionType) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return []byte(strconv.Itoa(int(a))), nil
	}
	return []byte(a.String()), nil
}

func (a *ActionType) UnmarshalText(b []byte) error {
	v, err := ParseActionType(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func ParseActionType(s string) (ActionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		a := ActionType(n)
		if a.Valid() {
			return a, nil
		}
		return 0, fmt.Errorf("%w: unknown action type %q", ErrInvalidFilter, s)
	}
	for a, name := range actionNames {
		if s == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action type %q", ErrInvalidFilter, s)
}
