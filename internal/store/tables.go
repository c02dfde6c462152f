package store

import "tourneyaudit-server-go/internal/audit"

// tableDef maps an entity type onto its tables. The audit table is always
// aliased "a"; joins walk from a.reference_id_lock up to the tournament.
type tableDef struct {
	entityType  audit.EntityType
	auditTable  string
	notesTable  string
	entityTable string
	nameColumn  string
	// parentColumn is the column of entityTable pointing at the parent
	// entity; empty for tournaments.
	parentColumn string
	joins        []string
	rootExpr     string
}

var tables = map[audit.EntityType]tableDef{
	audit.EntityTournament: {
		entityType:  audit.EntityTournament,
		auditTable:  "tournament_audits",
		notesTable:  "tournament_admin_notes",
		entityTable: "tournaments",
		nameColumn:  "name",
		rootExpr:    "a.reference_id_lock",
	},
	audit.EntityMatch: {
		entityType:   audit.EntityMatch,
		auditTable:   "match_audits",
		notesTable:   "match_admin_notes",
		entityTable:  "matches",
		nameColumn:   "name",
		parentColumn: "tournament_id",
		joins: []string{
			"LEFT JOIN matches m ON m.id = a.reference_id_lock",
		},
		rootExpr: "m.tournament_id",
	},
	audit.EntityGame: {
		entityType:   audit.EntityGame,
		auditTable:   "game_audits",
		notesTable:   "game_admin_notes",
		entityTable:  "games",
		parentColumn: "match_id",
		joins: []string{
			"LEFT JOIN games g ON g.id = a.reference_id_lock",
			"LEFT JOIN matches m ON m.id = g.match_id",
		},
		rootExpr: "m.tournament_id",
	},
	audit.EntityScore: {
		entityType:   audit.EntityScore,
		auditTable:   "game_score_audits",
		notesTable:   "game_score_admin_notes",
		entityTable:  "game_scores",
		parentColumn: "game_id",
		joins: []string{
			"LEFT JOIN game_scores s ON s.id = a.reference_id_lock",
			"LEFT JOIN games g ON g.id = s.game_id",
			"LEFT JOIN matches m ON m.id = g.match_id",
		},
		rootExpr: "m.tournament_id",
	},
}

func tableFor(t audit.EntityType) (tableDef, bool) {
	def, ok := tables[t]
	return def, ok
}
