package audit

import (
	"fmt"
	"regexp"
)

// Field names recorded in diffs, camelCase.
const (
	FieldVerificationStatus = "verificationStatus"
	FieldVerifiedByUserID   = "verifiedByUserId"
	FieldSubmittedByUserID  = "submittedByUserId"
)

// UserRefFields are diff fields whose values are user ids.
var UserRefFields = []string{FieldVerifiedByUserID, FieldSubmittedByUserID}

var commonFields = []string{
	FieldVerificationStatus,
	"rejectionReason",
	"processingStatus",
	"warningFlags",
	"lastProcessingDate",
}

var auditedFields = map[EntityType][]string{
	EntityTournament: {
		"name", "abbreviation", "forumUrl", "rankRangeLowerBound", "ruleset",
		"lobbySize", "startTime", "endTime", FieldSubmittedByUserID, FieldVerifiedByUserID,
	},
	EntityMatch: {
		"name", "osuId", "startTime", "endTime", "tournamentId",
		FieldSubmittedByUserID, FieldVerifiedByUserID,
	},
	EntityGame: {
		"osuId", "ruleset", "scoringType", "teamType", "mods", "startTime",
		"endTime", "beatmapId", "matchId", "isFreeMod",
	},
	EntityScore: {
		"score", "placement", "maxCombo", "count50", "count100", "count300",
		"countMiss", "countKatu", "countGeki", "pass", "perfect", "grade",
		"mods", "team", "ruleset", "gameId", "playerId",
	},
}

var knownFields = func() map[EntityType]map[string]struct{} {
	out := make(map[EntityType]map[string]struct{}, len(auditedFields))
	for t, fields := range auditedFields {
		set := make(map[string]struct{}, len(fields)+len(commonFields))
		for _, f := range fields {
			set[f] = struct{}{}
		}
		for _, f := range commonFields {
			set[f] = struct{}{}
		}
		out[t] = set
	}
	return out
}()

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateField checks that field is audited for t and returns its
// camelCase form.
func ValidateField(t EntityType, field string) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown entity type %d", ErrInvalidFilter, int(t))
	}
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: malformed field name %q", ErrInvalidFilter, field)
	}
	name := CamelCase(field)
	if _, ok := knownFields[t][name]; !ok {
		return "", fmt.Errorf("%w: field %q is not audited for %s", ErrInvalidFilter, field, t)
	}
	return name, nil
}

// ValidateFields applies ValidateField to each name, dropping duplicates.
func ValidateFields(t EntityType, fields []string) ([]string, error) {
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		name, err := ValidateField(t, f)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}
