package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		in   string
		want EntityType
	}{
		{"tournament", EntityTournament},
		{"Match", EntityMatch},
		{"matches", EntityMatch},
		{"game", EntityGame},
		{"score", EntityScore},
		{"game_score", EntityScore},
		{"3", EntityScore},
	}
	for _, tt := range tests {
		got, err := ParseEntityType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "player", "9", "-1"} {
		_, err := ParseEntityType(bad)
		assert.ErrorIs(t, err, ErrInvalidFilter, bad)
	}
}

func TestHierarchy(t *testing.T) {
	assert.True(t, Above(EntityTournament, EntityMatch))
	assert.True(t, Above(EntityMatch, EntityScore))
	assert.False(t, Above(EntityScore, EntityGame))
	assert.False(t, Above(EntityGame, EntityGame))

	child, ok := EntityTournament.Child()
	assert.True(t, ok)
	assert.Equal(t, EntityMatch, child)
	child, ok = EntityGame.Child()
	assert.True(t, ok)
	assert.Equal(t, EntityScore, child)
	_, ok = EntityScore.Child()
	assert.False(t, ok)

	types := []EntityType{EntityScore, EntityTournament, EntityGame, EntityMatch}
	SortByHierarchy(types)
	assert.Equal(t, AllEntityTypes, types)
}

func TestEntityTypeJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		T EntityType `json:"t"`
		A ActionType `json:"a"`
	}{EntityGame, ActionDeleted})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t": "game", "a": "deleted"}`, string(b))

	var v struct {
		T EntityType `json:"t"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"t": "score"}`), &v))
	assert.Equal(t, EntityScore, v.T)
}

func TestParseActionType(t *testing.T) {
	a, err := ParseActionType("Updated")
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, a)

	a, err = ParseActionType("2")
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, a)

	_, err = ParseActionType("archived")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestValidateField(t *testing.T) {
	name, err := ValidateField(EntityTournament, "verification_status")
	require.NoError(t, err)
	assert.Equal(t, FieldVerificationStatus, name)

	name, err = ValidateField(EntityScore, "maxCombo")
	require.NoError(t, err)
	assert.Equal(t, "maxCombo", name)

	_, err = ValidateField(EntityScore, "abbreviation")
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = ValidateField(EntityMatch, "name'); DROP TABLE x; --")
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = ValidateField(EntityType(42), "name")
	assert.ErrorIs(t, err, ErrInvalidFilter)

	fields, err := ValidateFields(EntityMatch, []string{"name", "start_time", "startTime"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "startTime"}, fields)
}
